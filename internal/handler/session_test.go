package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Snapshot() model.Snapshot {
	return m.Called().Get(0).(model.Snapshot)
}

func (m *MockSession) SeatStates() []model.SeatState {
	return m.Called().Get(0).([]model.SeatState)
}

func (m *MockSession) Select(ctx context.Context, seatID uint64) error {
	return m.Called(ctx, seatID).Error(0)
}

func (m *MockSession) Deselect(ctx context.Context, seatID uint64) error {
	return m.Called(ctx, seatID).Error(0)
}

func (m *MockSession) Checkout(ctx context.Context) (model.Order, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.Order), args.Error(1)
}

func (m *MockSession) HandOffToCheckout(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockSession) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) DrainNotices() []model.Notice {
	ns, _ := m.Called().Get(0).([]model.Notice)
	return ns
}

func call(h echo.HandlerFunc, method, target, id string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	_ = h(c)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHealth(t *testing.T) {
	rec := call(Health, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestGetSession(t *testing.T) {
	s := new(MockSession)
	s.On("SeatStates").Return([]model.SeatState{
		{Seat: model.Seat{ID: 1, Row: "C", Column: 7, Category: model.CategoryPremium, PriceCents: 35000}, Status: model.LockedByOther("x")},
	})
	s.On("Snapshot").Return(model.Snapshot{ShowtimeID: 7, Connectivity: model.ConnConnected})
	h := NewSessionHandler(s)

	rec := call(h.Get, http.MethodGet, "/v1/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	seats := body["seats"].([]any)
	require.Len(t, seats, 1)
	seat := seats[0].(map[string]any)
	assert.Equal(t, "C7", seat["label"])
	assert.Equal(t, "locked_by_other", seat["status"])
	assert.Equal(t, "x", seat["locked_by"])
	assert.Equal(t, "connected", body["session"].(map[string]any)["connectivity"])
}

func TestSelectSeat(t *testing.T) {
	s := new(MockSession)
	s.On("Select", mock.Anything, uint64(3)).Return(nil)
	s.On("Snapshot").Return(model.Snapshot{ShowtimeID: 7, LeaseID: "L-1"})
	h := NewSessionHandler(s)

	rec := call(h.SelectSeat, http.MethodPost, "/v1/session/seats/3", "3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "L-1", decode(t, rec)["lease_id"])
	s.AssertExpectations(t)

	rec = call(h.SelectSeat, http.MethodPost, "/v1/session/seats/0", "0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		retryable bool
	}{
		{fmt.Errorf("select: %w", model.ErrUnknownSeat), http.StatusNotFound, false},
		{fmt.Errorf("select: %w", model.ErrSeatUnavailable), http.StatusConflict, false},
		{&model.LockConflictError{SeatIDs: []uint64{3}}, http.StatusConflict, false},
		{fmt.Errorf("x: %w", model.ErrActionInFlight), http.StatusConflict, false},
		{fmt.Errorf("x: %w", model.ErrDuplicateAction), http.StatusTooManyRequests, false},
		{fmt.Errorf("x: %w", model.ErrLeaseExpired), http.StatusGone, true},
		{&model.ValidationError{Reason: "gone", Retryable: true}, http.StatusUnprocessableEntity, true},
		{fmt.Errorf("lock: %w", model.ErrNetworkUnavailable), http.StatusServiceUnavailable, true},
		{fmt.Errorf("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := new(MockSession)
			s.On("Deselect", mock.Anything, uint64(3)).Return(tt.err)
			h := NewSessionHandler(s)

			rec := call(h.DeselectSeat, http.MethodDelete, "/v1/session/seats/3", "3")
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.retryable, body["retryable"])
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestCheckout(t *testing.T) {
	s := new(MockSession)
	s.On("Checkout", mock.Anything).Return(model.Order{ID: "ord-1", AmountCents: 70000, Currency: "INR"}, nil).Once()
	s.On("Checkout", mock.Anything).Return(model.Order{}, fmt.Errorf("checkout: %w", model.ErrLeaseUnconfirmed)).Once()
	h := NewSessionHandler(s)

	rec := call(h.Checkout, http.MethodPost, "/v1/session/checkout", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ord-1", body["order_id"])
	assert.Equal(t, 70000.0, body["amount_cents"])
	_, hasExpiry := body["expires_at"]
	assert.False(t, hasExpiry)

	rec = call(h.Checkout, http.MethodPost, "/v1/session/checkout", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandOffResetAndNotices(t *testing.T) {
	s := new(MockSession)
	s.On("HandOffToCheckout", mock.Anything).Return()
	s.On("Snapshot").Return(model.Snapshot{HandingOff: true})
	s.On("Reset", mock.Anything).Return(model.ErrHandedOff)
	s.On("DrainNotices").Return(nil)
	h := NewSessionHandler(s)

	rec := call(h.HandOff, http.MethodPost, "/v1/session/handoff", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["handing_off"])

	rec = call(h.Reset, http.MethodDelete, "/v1/session/lease", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(h.Notices, http.MethodGet, "/v1/session/notices", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["notices"])
	s.AssertExpectations(t)
}
