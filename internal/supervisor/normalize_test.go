package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected model.Event
	}{
		{
			name:     "seat locked nested",
			payload:  `{"type":"seat_locked","seat":{"seat_id":12,"status":"locked","locked_by":"owner-b"},"showtime_id":7}`,
			expected: model.Event{Type: model.EventSeatLocked, SeatID: 12, Owner: "owner-b"},
		},
		{
			name:     "seat locked flat with camel case",
			payload:  `{"type":"seat_locked","seatId":"12","ownerRef":"owner-b"}`,
			expected: model.Event{Type: model.EventSeatLocked, SeatID: 12, Owner: "owner-b"},
		},
		{
			name:     "seat locked owner token",
			payload:  `{"event":"seat_locked","seat":{"id":3},"owner_token":"tok"}`,
			expected: model.Event{Type: model.EventSeatLocked, SeatID: 3, Owner: "tok"},
		},
		{
			name:     "seat locked null owner",
			payload:  `{"type":"seat_locked","seat":{"seat_id":5,"locked_by":null,"owner":"owner-c"}}`,
			expected: model.Event{Type: model.EventSeatLocked, SeatID: 5, Owner: "owner-c"},
		},
		{
			name:     "seat released",
			payload:  `{"type":"seat_released","seat":{"seat_id":12,"status":"available"}}`,
			expected: model.Event{Type: model.EventSeatReleased, SeatID: 12},
		},
		{
			name:     "partial update is a refresh hint",
			payload:  `{"type":"seat_update_partial","showtime_id":7,"note":"partial"}`,
			expected: model.Event{Type: model.EventRefreshHint},
		},
		{
			name:     "error",
			payload:  `{"type":"error","message":"showtime not found"}`,
			expected: model.Event{Type: model.EventError, Message: "showtime not found"},
		},
		{
			name:     "connected",
			payload:  `{"type":"connected","showtime_id":7}`,
			expected: model.Event{Type: model.EventConnected},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ev)
		})
	}
}

func TestDecode_SeatMapUpdate(t *testing.T) {
	payload := `{"type":"seat_update","seats":[
		{"seat_id":1,"row":"A","number":1,"status":"available","locked_by":null},
		{"seat_id":2,"status":"locked","locked_by":"owner-b"},
		{"seat_id":"3","status":"booked"},
		{"seatId":4,"status":"blocked"},
		{"status":"locked"},
		{"seat_id":6,"status":"mystery"}
	]}`

	ev, err := Decode([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, model.EventSeatMapUpdate, ev.Type)
	assert.Equal(t, []model.SeatUpdate{
		{SeatID: 1, Status: model.StatusAvailable},
		{SeatID: 2, Status: model.StatusLockedByOther, Owner: "owner-b"},
		{SeatID: 3, Status: model.StatusBooked},
		{SeatID: 4, Status: model.StatusBlocked},
	}, ev.Seats)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{"type":"ping"}`))
	assert.ErrorIs(t, err, ErrIgnored)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"seat_locked","seat":{"locked_by":"x"}}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"confetti"}`))
	assert.Error(t, err)
}
