package handler // session control endpoints

import (
	"context"
	"errors"
	"net/http"
	"strconv" // seat id path parameters
	"time"

	"github.com/labstack/echo/v4" // Echo context and JSON helpers

	"github.com/iliyamo/cinema-seat-sync/internal/model"
)

// SeatSession is the part of a session the control API drives.
type SeatSession interface {
	Snapshot() model.Snapshot
	SeatStates() []model.SeatState
	Select(ctx context.Context, seatID uint64) error
	Deselect(ctx context.Context, seatID uint64) error
	Checkout(ctx context.Context) (model.Order, error)
	HandOffToCheckout(ctx context.Context)
	Reset(ctx context.Context) error
	DrainNotices() []model.Notice
}

// SessionHandler exposes the process's seat-selection session over HTTP.
type SessionHandler struct {
	Session SeatSession
}

// NewSessionHandler constructs a SessionHandler.  s must be non-nil.
func NewSessionHandler(s SeatSession) *SessionHandler {
	if s == nil {
		panic("nil session passed to NewSessionHandler")
	}
	return &SessionHandler{Session: s}
}

// seatView is one seat of the GET /v1/session response.
type seatView struct {
	SeatID     uint64 `json:"seat_id"`
	Row        string `json:"row"`
	Number     uint32 `json:"number"`
	Label      string `json:"label"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Status     string `json:"status"`
	LockedBy   string `json:"locked_by,omitempty"`
}

type orderView struct {
	OrderID     string     `json:"order_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Get handles GET /v1/session.  It returns the read-only snapshot and
// the full seat map.
func (h *SessionHandler) Get(c echo.Context) error {
	states := h.Session.SeatStates()
	seats := make([]seatView, 0, len(states))
	for _, st := range states {
		seats = append(seats, seatView{
			SeatID:     st.Seat.ID,
			Row:        st.Seat.Row,
			Number:     st.Seat.Column,
			Label:      st.Seat.Label(),
			Category:   string(st.Seat.Category),
			PriceCents: st.Seat.PriceCents,
			Status:     st.Status.Kind.String(),
			LockedBy:   st.Status.Owner,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"session": h.Session.Snapshot(), "seats": seats})
}

// SelectSeat handles POST /v1/session/seats/:id.
func (h *SessionHandler) SelectSeat(c echo.Context) error {
	id, err := seatID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	if err := h.Session.Select(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.Session.Snapshot())
}

// DeselectSeat handles DELETE /v1/session/seats/:id.
func (h *SessionHandler) DeselectSeat(c echo.Context) error {
	id, err := seatID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	if err := h.Session.Deselect(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, h.Session.Snapshot())
}

// Checkout handles POST /v1/session/checkout.  On success the lease is
// handed off and the created order is returned with 201.
func (h *SessionHandler) Checkout(c echo.Context) error {
	o, err := h.Session.Checkout(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	v := orderView{OrderID: o.ID, AmountCents: o.AmountCents, Currency: o.Currency}
	if !o.ExpiresAt.IsZero() {
		v.ExpiresAt = &o.ExpiresAt
	}
	return c.JSON(http.StatusCreated, v)
}

// HandOff handles POST /v1/session/handoff.  It is used when checkout
// ran outside this agent and the lease must survive the session.
func (h *SessionHandler) HandOff(c echo.Context) error {
	h.Session.HandOffToCheckout(c.Request().Context())
	return c.JSON(http.StatusOK, h.Session.Snapshot())
}

// Reset handles DELETE /v1/session/lease.
func (h *SessionHandler) Reset(c echo.Context) error {
	if err := h.Session.Reset(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Notices handles GET /v1/session/notices.  Returned notices are
// consumed.
func (h *SessionHandler) Notices(c echo.Context) error {
	ns := h.Session.DrainNotices()
	if ns == nil {
		ns = []model.Notice{}
	}
	return c.JSON(http.StatusOK, echo.Map{"notices": ns})
}

func seatID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err == nil && id == 0 {
		err = errors.New("seat id must be positive")
	}
	return id, err
}

// writeError maps the failure taxonomy onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	body := echo.Map{"error": err.Error(), "retryable": model.IsRetryable(err)}
	var (
		conflict *model.LockConflictError
		verr     *model.ValidationError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrUnknownSeat):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
		body["seat_ids"] = conflict.SeatIDs
	case errors.Is(err, model.ErrSeatUnavailable),
		errors.Is(err, model.ErrActionInFlight),
		errors.Is(err, model.ErrSeatNotSelected),
		errors.Is(err, model.ErrNoSeatsSelected),
		errors.Is(err, model.ErrLeaseUnconfirmed),
		errors.Is(err, model.ErrHandedOff):
		status = http.StatusConflict
	case errors.Is(err, model.ErrDuplicateAction):
		status = http.StatusTooManyRequests
	case errors.Is(err, model.ErrLeaseExpired):
		status = http.StatusGone
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
	case model.IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, body)
}
