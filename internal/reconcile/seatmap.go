package reconcile

import "github.com/iliyamo/cinema-seat-sync/internal/model"

// SeatMap is an immutable snapshot of every seat of a showtime and its
// status.  The engine never mutates a published SeatMap: each applied
// input produces a new one, so readers never observe a partial update.
type SeatMap struct {
	seats map[uint64]model.SeatState
	order []uint64 // fetch order, used for stable listings
}

func emptySeatMap() *SeatMap {
	return &SeatMap{seats: map[uint64]model.SeatState{}}
}

// Get returns the state of a seat.
func (m *SeatMap) Get(id uint64) (model.SeatState, bool) {
	st, ok := m.seats[id]
	return st, ok
}

// Status returns the status of a seat, or false if the seat is unknown.
func (m *SeatMap) Status(id uint64) (model.SeatStatus, bool) {
	st, ok := m.seats[id]
	return st.Status, ok
}

// Len returns the number of seats.
func (m *SeatMap) Len() int { return len(m.seats) }

// All returns every seat in fetch order.
func (m *SeatMap) All() []model.SeatState {
	out := make([]model.SeatState, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.seats[id])
	}
	return out
}

// Count returns how many seats are in the given status kind.
func (m *SeatMap) Count(kind model.StatusKind) int {
	n := 0
	for _, st := range m.seats {
		if st.Status.Kind == kind {
			n++
		}
	}
	return n
}
