package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/queue"
)

// Checkout validates the confirmed lease with the authority and creates
// an order from it.  On success the session is marked as handing off so
// teardown no longer releases the lease.
//
// A rejected validation releases the lease (best effort) and returns a
// retryable *model.ValidationError: the user starts over by selecting
// seats again.  A failed order creation keeps the lease so the call can
// be retried without re-locking.
func (c *Coordinator) Checkout(ctx context.Context) (model.Order, error) {
	c.mu.Lock()
	if c.order != nil {
		o := *c.order
		c.mu.Unlock()
		return o, nil
	}
	if c.pending != nil {
		c.mu.Unlock()
		return model.Order{}, fmt.Errorf("checkout: %w", model.ErrActionInFlight)
	}
	now := c.cfg.Now()
	out := c.engine.Expire(now)
	if len(out.Expired) > 0 {
		c.mu.Unlock()
		c.report(out)
		return model.Order{}, fmt.Errorf("checkout: %w", model.ErrLeaseExpired)
	}
	l, ok := c.engine.Lease(now)
	switch {
	case !ok || len(l.SeatIDs) == 0:
		c.mu.Unlock()
		return model.Order{}, fmt.Errorf("checkout: %w", model.ErrNoSeatsSelected)
	case l.Provisional:
		c.mu.Unlock()
		return model.Order{}, fmt.Errorf("checkout lease %s: %w", l.ID, model.ErrLeaseUnconfirmed)
	}
	snap := c.engine.Snapshot(now)
	pa := model.PendingAction{Kind: model.ActionCheckout, TargetSeatIDs: l.SeatIDs.Clone(), SubmittedAt: now}
	c.pending = &pa
	c.mu.Unlock()

	var order model.Order
	err := c.run(ctx, func() error {
		var err error
		order, err = c.checkout(ctx, l, snap)
		return err
	})
	return order, err
}

func (c *Coordinator) checkout(ctx context.Context, l model.Lease, snap model.Snapshot) (model.Order, error) {
	ids := l.SeatIDs.Sorted()
	log := c.log.With(zap.String("lease_id", l.ID), zap.Uint64s("seat_ids", ids))

	started := time.Now()
	v, err := c.auth.ValidateLease(ctx, model.ValidateRequest{
		ShowtimeID: c.sc.ShowtimeID,
		LeaseID:    l.ID,
		Owner:      c.sc.Owner,
		SeatIDs:    ids,
	})
	c.metrics.ObserveAuthorityCall("validate", callStatus(err), started)
	var verr *model.ValidationError
	switch {
	case err == nil && v.Valid:
	case err == nil || errors.As(err, &verr):
		reason := v.Reason
		if verr != nil {
			reason = verr.Reason
		}
		log.Warn("lease validation rejected", zap.String("reason", reason), zap.Uint64s("invalid_seats", v.InvalidSeats))
		if rerr := c.Release(ctx); rerr != nil {
			log.Warn("release after failed validation", zap.Error(rerr))
		}
		c.metrics.IncAction(model.ActionCheckout.String(), "invalid")
		return model.Order{}, &model.ValidationError{Reason: reason, Retryable: true}
	default:
		// The authority never answered; the lease is still ours.
		log.Warn("lease validation unavailable", zap.Error(err))
		c.metrics.IncAction(model.ActionCheckout.String(), "error")
		return model.Order{}, fmt.Errorf("validate lease %s: %w", l.ID, err)
	}

	seats := make([]model.OrderSeat, 0, len(snap.SelectedSeats))
	for _, s := range snap.SelectedSeats {
		seats = append(seats, model.OrderSeat{SeatID: s.ID, PriceCents: s.PriceCents})
	}
	started = time.Now()
	order, err := c.auth.CreateOrder(ctx, model.OrderRequest{
		ShowtimeID: c.sc.ShowtimeID,
		LeaseID:    l.ID,
		Owner:      c.sc.Owner,
		Seats:      seats,
	})
	c.metrics.ObserveAuthorityCall("order", callStatus(err), started)
	if err != nil {
		log.Warn("order creation failed, lease kept", zap.Error(err))
		c.metrics.IncAction(model.ActionCheckout.String(), "error")
		if errors.As(err, &verr) {
			return model.Order{}, &model.ValidationError{Reason: verr.Reason, Retryable: true}
		}
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}

	c.mu.Lock()
	c.order = &order
	c.mu.Unlock()
	c.HandOffToCheckout()
	c.metrics.IncAction(model.ActionCheckout.String(), "ok")
	log.Info("order created", zap.String("order_id", order.ID), zap.Int64("amount_cents", order.AmountCents))

	c.publishHandoff(ctx, l, snap, order)
	return order, nil
}

// HandOffToCheckout suppresses the automatic lease release on teardown.
// Booked events for the held seats are from then on the session's own
// booking.
func (c *Coordinator) HandOffToCheckout() {
	c.mu.Lock()
	already := c.handingOff
	c.handingOff = true
	c.mu.Unlock()
	if already {
		return
	}
	c.engine.SetHandingOff()
	c.log.Info("lease handed off to checkout")
}

func (c *Coordinator) publishHandoff(ctx context.Context, l model.Lease, snap model.Snapshot, order model.Order) {
	if c.cfg.Handoff == nil {
		return
	}
	ev := queue.CheckoutHandoffEvent{
		OrderID:          order.ID,
		LeaseID:          l.ID,
		ShowtimeID:       c.sc.ShowtimeID,
		Owner:            c.sc.Owner,
		SeatIDs:          l.SeatIDs.Sorted(),
		TotalAmountCents: order.AmountCents,
		Currency:         order.Currency,
		LeaseExpiresAt:   l.ExpiresAt.UTC().Format(time.RFC3339),
		HandedOffAt:      c.cfg.Now().UTC().Format(time.RFC3339),
	}
	for _, s := range snap.SelectedSeats {
		ev.SeatLabels = append(ev.SeatLabels, s.Label())
	}
	if ev.TotalAmountCents == 0 {
		ev.TotalAmountCents = snap.TotalPriceCents
	}
	// Errors are logged by the publisher; the order already exists.
	_ = c.cfg.Handoff.PublishCheckoutHandoff(ctx, ev)
}
