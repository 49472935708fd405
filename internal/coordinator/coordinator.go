// Package coordinator turns user actions into optimistic engine
// transitions plus the lock-authority calls that confirm them.  It keeps
// at most one PendingAction in flight per session.  Actions on seats the
// in-flight call targets are rejected; actions on unrelated seats are
// applied optimistically and synchronized by a single follow-up call
// once the in-flight one completes.  While a checkout is in flight every
// seat action is rejected.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/metrics"
	"github.com/iliyamo/cinema-seat-sync/internal/queue"
	"github.com/iliyamo/cinema-seat-sync/internal/reconcile"
)

// Defaults applied by New for zero Config values.
const (
	DefaultLockTTL        = 3 * time.Minute
	DefaultProvisionalTTL = 60 * time.Second
	DefaultDebounce       = 400 * time.Millisecond
)

// Authority is the subset of the lock-authority contract the coordinator
// drives.
type Authority interface {
	LockSeats(ctx context.Context, req model.LockRequest) (model.LockGrant, error)
	ExtendLease(ctx context.Context, req model.ExtendRequest) (model.ExtendResult, error)
	ReleaseLease(ctx context.Context, req model.ReleaseRequest) error
	ValidateLease(ctx context.Context, req model.ValidateRequest) (model.Validation, error)
	CreateOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
}

// HandoffPublisher announces a completed checkout handoff.
type HandoffPublisher interface {
	PublishCheckoutHandoff(ctx context.Context, ev queue.CheckoutHandoffEvent) error
}

// Config tunes a Coordinator.
//
// Fields:
//
//	LockTTL        – TTL requested on every lock and extend call.
//	ProvisionalTTL – lifetime of the local-only lease kept after a failed lock call.
//	Debounce       – window in which an identical (kind, seat) submission is dropped.
//	Now            – clock, time.Now when nil.
//	Notify         – receives conflicts, expiry and failure notices; may be nil.
//	Handoff        – optional publisher for checkout handoff events.
type Config struct {
	LockTTL        time.Duration
	ProvisionalTTL time.Duration
	Debounce       time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Notify         func(model.Notice)
	Handoff        HandoffPublisher
}

type debounceKey struct {
	kind   model.ActionKind
	seatID uint64
}

// batch is the set of optimistic changes one authority round trip
// synchronizes.
type batch struct {
	selects   []reconcile.Change
	deselects []reconcile.Change
}

func (b batch) empty() bool { return len(b.selects) == 0 && len(b.deselects) == 0 }

// action describes the batch as a PendingAction.  A lock call carries the
// full self-selected set, so every held seat is a target.
func (b batch) action(now time.Time, held model.SeatSet) model.PendingAction {
	kind := model.ActionDeselect
	targets := model.SeatSet{}
	if len(b.selects) > 0 {
		kind = model.ActionSelect
		for id := range held {
			targets[id] = struct{}{}
		}
	}
	for _, c := range b.selects {
		targets[c.SeatID] = struct{}{}
	}
	for _, c := range b.deselects {
		targets[c.SeatID] = struct{}{}
	}
	return model.PendingAction{Kind: kind, TargetSeatIDs: targets, SubmittedAt: now}
}

// Coordinator serializes the network side of a session.
type Coordinator struct {
	engine  *reconcile.Engine
	auth    Authority
	sc      model.SessionContext
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	pending    *model.PendingAction
	queued     batch
	lastSubmit map[debounceKey]time.Time
	releasing  bool
	handingOff bool
	order      *model.Order
}

// New wires a coordinator to the session's engine and authority client.
func New(engine *reconcile.Engine, auth Authority, sc model.SessionContext, cfg Config) *Coordinator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.ProvisionalTTL <= 0 {
		cfg.ProvisionalTTL = DefaultProvisionalTTL
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	return &Coordinator{
		engine:  engine,
		auth:    auth,
		sc:      sc,
		cfg:     cfg,
		metrics: cfg.Metrics,
		log: cfg.Logger.With(
			zap.Uint64("showtime_id", sc.ShowtimeID),
			zap.String("owner", sc.Owner),
		),
		lastSubmit: map[debounceKey]time.Time{},
	}
}

// Pending returns the action currently in flight.
func (c *Coordinator) Pending() (model.PendingAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return model.PendingAction{}, false
	}
	pa := *c.pending
	pa.TargetSeatIDs = pa.TargetSeatIDs.Clone()
	return pa, true
}

// HandingOff reports whether the lease was handed to checkout.
func (c *Coordinator) HandingOff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handingOff
}

// Order returns the order created by a successful checkout.
func (c *Coordinator) Order() (model.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order == nil {
		return model.Order{}, false
	}
	return *c.order, true
}

// Select optimistically selects a seat and locks the full self-selected
// set on the authority.
func (c *Coordinator) Select(ctx context.Context, seatID uint64) error {
	return c.submit(ctx, model.ActionSelect, seatID)
}

// Deselect optimistically frees a seat and releases it on the authority.
// Deselecting the last seat releases the whole lease.
func (c *Coordinator) Deselect(ctx context.Context, seatID uint64) error {
	return c.submit(ctx, model.ActionDeselect, seatID)
}

func (c *Coordinator) submit(ctx context.Context, kind model.ActionKind, seatID uint64) error {
	c.mu.Lock()
	now := c.cfg.Now()

	if c.handingOff {
		c.mu.Unlock()
		return model.ErrHandedOff
	}
	if c.pending != nil && (c.pending.Kind == model.ActionCheckout || c.pending.Targets(seatID)) {
		c.mu.Unlock()
		c.metrics.IncAction(kind.String(), "in_flight")
		return fmt.Errorf("%s seat %d: %w", kind, seatID, model.ErrActionInFlight)
	}
	key := debounceKey{kind: kind, seatID: seatID}
	if last, ok := c.lastSubmit[key]; ok && now.Sub(last) < c.cfg.Debounce {
		c.mu.Unlock()
		c.metrics.IncAction(kind.String(), "duplicate")
		return fmt.Errorf("%s seat %d: %w", kind, seatID, model.ErrDuplicateAction)
	}

	var (
		change reconcile.Change
		out    reconcile.Outcome
		err    error
	)
	if kind == model.ActionSelect {
		change, out, err = c.engine.Select(seatID, now)
	} else {
		change, out, err = c.engine.Deselect(seatID, now)
	}
	if err != nil {
		c.mu.Unlock()
		c.report(out)
		c.metrics.IncAction(kind.String(), "rejected")
		return err
	}
	c.lastSubmit[key] = now
	if change.Prior == change.Applied {
		c.mu.Unlock()
		c.report(out)
		return nil
	}

	if kind == model.ActionSelect {
		c.queued.selects = append(c.queued.selects, change)
	} else {
		c.queued.deselects = append(c.queued.deselects, change)
	}
	if c.pending != nil {
		// The in-flight owner drains the queue when its call returns.
		c.mu.Unlock()
		c.report(out)
		c.log.Debug("action coalesced", zap.Stringer("kind", kind), zap.Uint64("seat_id", seatID))
		return nil
	}
	b := c.queued
	c.queued = batch{}
	pa := b.action(now, c.engine.SelfSeatIDs(now))
	c.pending = &pa
	c.mu.Unlock()

	c.report(out)
	return c.run(ctx, func() error { return c.sync(ctx, b) })
}

// run executes fn as the pending action (already installed by the
// caller), then synchronizes whatever was coalesced meanwhile.  Only fn's
// error is returned; follow-up failures become notices.
func (c *Coordinator) run(ctx context.Context, fn func() error) error {
	err := fn()
	for {
		c.mu.Lock()
		if c.queued.empty() {
			c.pending = nil
			c.mu.Unlock()
			return err
		}
		b := c.queued
		c.queued = batch{}
		now := c.cfg.Now()
		if c.handingOff {
			c.pending = nil
			c.mu.Unlock()
			dropped := append(b.selects, b.deselects...)
			c.report(c.engine.RevertAction(dropped, now))
			c.log.Warn("queued actions dropped after handoff", zap.Uint64s("seat_ids", changedSeatIDs(dropped)))
			return err
		}
		pa := b.action(now, c.engine.SelfSeatIDs(now))
		c.pending = &pa
		c.mu.Unlock()

		if ferr := c.sync(ctx, b); ferr != nil {
			c.notify(model.Notice{
				Kind:    model.NoticeActionFailed,
				SeatIDs: pa.TargetSeatIDs.Sorted(),
				Message: ferr.Error(),
			})
		}
	}
}

// sync runs one authority round trip for a batch: released seats first,
// then a lock call over the full self-selected set.
func (c *Coordinator) sync(ctx context.Context, b batch) error {
	var err error
	if len(b.deselects) > 0 {
		err = c.syncRelease(ctx, b.deselects)
	}
	if len(b.selects) > 0 {
		if lerr := c.syncLock(ctx, b.selects); err == nil {
			err = lerr
		}
	}
	return err
}

func (c *Coordinator) syncRelease(ctx context.Context, changes []reconcile.Change) error {
	now := c.cfg.Now()
	if len(c.engine.SelfSeatIDs(now)) == 0 {
		c.metrics.IncAction(model.ActionDeselect.String(), "ok")
		return c.Release(ctx)
	}

	l, _ := c.engine.Lease(now)
	ids := changedSeatIDs(changes)
	started := time.Now()
	err := c.auth.ReleaseLease(ctx, model.ReleaseRequest{
		ShowtimeID: c.sc.ShowtimeID,
		Owner:      c.sc.Owner,
		LeaseID:    serverLeaseID(l),
		SeatIDs:    ids,
	})
	c.metrics.ObserveAuthorityCall("release", callStatus(err), started)
	if err == nil {
		c.metrics.IncAction(model.ActionDeselect.String(), "ok")
		return nil
	}
	if l.Provisional {
		// Nothing confirmed on the authority; the local deselect stands.
		c.log.Warn("release of provisional seats failed", zap.Uint64s("seat_ids", ids), zap.Error(err))
		c.metrics.IncAction(model.ActionDeselect.String(), "ok")
		return nil
	}
	c.report(c.engine.RevertAction(changes, c.cfg.Now()))
	c.metrics.IncAction(model.ActionDeselect.String(), "error")
	c.log.Warn("release failed, deselect reverted", zap.Uint64s("seat_ids", ids), zap.Error(err))
	return fmt.Errorf("release seats %v: %w", ids, err)
}

func (c *Coordinator) syncLock(ctx context.Context, changes []reconcile.Change) error {
	now := c.cfg.Now()
	l, ok := c.engine.Lease(now)
	held := c.engine.SelfSeatIDs(now)
	if !ok || len(held) == 0 {
		// Expired or taken away while queued; nothing left to lock.
		return nil
	}

	req := model.LockRequest{
		ShowtimeID: c.sc.ShowtimeID,
		Owner:      c.sc.Owner,
		SeatIDs:    held.Sorted(),
		TTL:        c.cfg.LockTTL,
		LeaseID:    l.ID,
	}
	started := time.Now()
	grant, err := c.auth.LockSeats(ctx, req)
	c.metrics.ObserveAuthorityCall("lock", callStatus(err), started)
	now = c.cfg.Now()
	if err != nil {
		c.report(c.engine.RevertAction(changes, now))
		if fl, ok := c.engine.FallbackProvisional(c.cfg.ProvisionalTTL, now); ok && fl.Provisional {
			c.log.Warn("lock failed, keeping provisional lease",
				zap.String("lease_id", fl.ID),
				zap.Uint64s("seat_ids", fl.SeatIDs.Sorted()),
				zap.Time("expires_at", fl.ExpiresAt),
				zap.Error(err),
			)
		} else {
			c.log.Warn("lock failed", zap.Uint64s("seat_ids", req.SeatIDs), zap.Error(err))
		}
		c.metrics.IncAction(model.ActionSelect.String(), "error")
		return fmt.Errorf("lock seats %v: %w", changedSeatIDs(changes), err)
	}

	confirmed := confirmedSeats(l, held, changes)
	out := c.engine.ConfirmLock(held, confirmed, grant, now)
	c.report(out)
	c.releaseOrphans(ctx, out.Orphaned)

	rejected := rejectedSeats(held, confirmed, grant, c.sc.Owner)
	if len(rejected) > 0 {
		c.metrics.IncAction(model.ActionSelect.String(), "conflict")
		return &model.LockConflictError{SeatIDs: rejected}
	}
	c.metrics.IncAction(model.ActionSelect.String(), "ok")
	return nil
}

// confirmedSeats is the part of held the authority locked in earlier
// calls: everything except this batch's selects, unless the lease is
// still provisional.
func confirmedSeats(l model.Lease, held model.SeatSet, selects []reconcile.Change) model.SeatSet {
	if l.Provisional {
		return nil
	}
	out := held.Clone()
	for _, ch := range selects {
		delete(out, ch.SeatID)
	}
	return out
}

// rejectedSeats lists requested seats the authority did not grant and
// the session did not already hold.
func rejectedSeats(requested, confirmed model.SeatSet, grant model.LockGrant, owner string) []uint64 {
	mine := model.SeatSet{}
	for _, cf := range grant.Conflicts {
		if cf.Owner == owner {
			mine[cf.SeatID] = struct{}{}
		}
	}
	var out []uint64
	for _, id := range requested.Sorted() {
		if !grant.Granted.Has(id) && !mine.Has(id) && !confirmed.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// releaseOrphans frees seats the authority granted that the session no
// longer wants.  Best effort.
func (c *Coordinator) releaseOrphans(ctx context.Context, ids []uint64) {
	if len(ids) == 0 {
		return
	}
	err := c.auth.ReleaseLease(ctx, model.ReleaseRequest{
		ShowtimeID: c.sc.ShowtimeID,
		Owner:      c.sc.Owner,
		SeatIDs:    ids,
	})
	if err != nil {
		c.log.Warn("orphan release failed", zap.Uint64s("seat_ids", ids), zap.Error(err))
		return
	}
	c.log.Info("orphaned seats released", zap.Uint64s("seat_ids", ids))
}

// Renew extends the confirmed lease when it is close to expiry.  It is a
// no-op while another action is in flight.  Failures are soft: the lease
// keeps counting down and the next tick tries again.
func (c *Coordinator) Renew(ctx context.Context) error {
	c.mu.Lock()
	now := c.cfg.Now()
	if c.pending != nil || c.releasing || c.handingOff || !c.engine.ShouldRenew(now) {
		c.mu.Unlock()
		return nil
	}
	l, ok := c.engine.Lease(now)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	pa := model.PendingAction{Kind: model.ActionExtendLease, TargetSeatIDs: l.SeatIDs.Clone(), SubmittedAt: now}
	c.pending = &pa
	c.mu.Unlock()

	return c.run(ctx, func() error { return c.renew(ctx, l) })
}

func (c *Coordinator) renew(ctx context.Context, l model.Lease) error {
	started := time.Now()
	res, err := c.auth.ExtendLease(ctx, model.ExtendRequest{
		ShowtimeID: c.sc.ShowtimeID,
		LeaseID:    l.ID,
		Owner:      c.sc.Owner,
		SeatIDs:    l.SeatIDs.Sorted(),
		TTL:        c.cfg.LockTTL,
	})
	c.metrics.ObserveAuthorityCall("extend", callStatus(err), started)
	now := c.cfg.Now()
	if err != nil {
		secs, _ := c.engine.SecondsRemaining(now)
		c.log.Warn("lease renewal failed",
			zap.String("lease_id", l.ID),
			zap.Int("seconds_remaining", secs),
			zap.Error(err),
		)
		c.notify(model.Notice{
			Kind:    model.NoticeRenewFailed,
			SeatIDs: l.SeatIDs.Sorted(),
			Message: err.Error(),
		})
		c.metrics.IncAction(model.ActionExtendLease.String(), "error")
		return fmt.Errorf("extend lease %s: %w", l.ID, err)
	}

	if len(res.NotOwned) > 0 {
		c.report(c.engine.ApplyRenewalConflict(l.ID, res.NotOwned, now))
	}
	if !res.ExpiresAt.IsZero() && !c.engine.ApplyRenewal(l.ID, res.ExpiresAt, now) {
		c.log.Debug("renewal discarded, lease changed meanwhile", zap.String("lease_id", l.ID))
	}
	if len(res.NotOwned) > 0 {
		c.metrics.IncAction(model.ActionExtendLease.String(), "conflict")
		return &model.LockConflictError{SeatIDs: res.NotOwned}
	}
	c.metrics.IncAction(model.ActionExtendLease.String(), "ok")
	c.log.Debug("lease renewed", zap.String("lease_id", l.ID), zap.Time("expires_at", res.ExpiresAt))
	return nil
}

// Release drops the lease locally and releases it on the authority.  At
// most one release is in flight; concurrent calls return immediately.
// A lease handed to checkout is never released.
func (c *Coordinator) Release(ctx context.Context) error {
	c.mu.Lock()
	if c.releasing || c.handingOff {
		c.mu.Unlock()
		return nil
	}
	c.releasing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.releasing = false
		c.mu.Unlock()
	}()

	l, ok := c.engine.ReleaseAll(c.cfg.Now())
	if !ok {
		return nil
	}
	var ids []uint64
	if len(l.SeatIDs) > 0 {
		ids = l.SeatIDs.Sorted()
	}
	started := time.Now()
	err := c.auth.ReleaseLease(ctx, model.ReleaseRequest{
		ShowtimeID: c.sc.ShowtimeID,
		Owner:      c.sc.Owner,
		LeaseID:    serverLeaseID(l),
		SeatIDs:    ids,
	})
	c.metrics.ObserveAuthorityCall("release", callStatus(err), started)
	if err != nil {
		c.log.Warn("lease release failed", zap.String("lease_id", l.ID), zap.Error(err))
		c.metrics.IncAction(model.ActionRelease.String(), "error")
		return fmt.Errorf("release lease %s: %w", l.ID, err)
	}
	c.metrics.IncAction(model.ActionRelease.String(), "ok")
	c.log.Info("lease released", zap.String("lease_id", l.ID), zap.Uint64s("seat_ids", ids))
	return nil
}

// Teardown releases the lease on session exit unless it was handed off.
func (c *Coordinator) Teardown(ctx context.Context) error {
	if c.HandingOff() {
		c.log.Info("session handed off to checkout, lease kept")
		return nil
	}
	return c.Release(ctx)
}

// report turns an engine outcome into notices and metrics.
func (c *Coordinator) report(out reconcile.Outcome) {
	Report(out, c.notify, c.metrics)
}

func (c *Coordinator) notify(n model.Notice) {
	if c.cfg.Notify == nil {
		return
	}
	if n.At.IsZero() {
		n.At = c.cfg.Now()
	}
	c.cfg.Notify(n)
}

// Report converts an engine outcome into notices: one per conflicting
// seat and one for all expired seats.
func Report(out reconcile.Outcome, notify func(model.Notice), m *metrics.Metrics) {
	for _, cf := range out.Conflicts {
		m.IncConflict(cf.Reason)
		if notify != nil {
			notify(model.Notice{
				Kind:    model.NoticeConflict,
				SeatIDs: []uint64{cf.SeatID},
				Owner:   cf.Owner,
				Message: "seat " + cf.Reason,
			})
		}
	}
	if len(out.Expired) > 0 && notify != nil {
		notify(model.Notice{
			Kind:    model.NoticeLeaseExpired,
			SeatIDs: out.Expired,
			Message: model.ErrLeaseExpired.Error(),
		})
	}
}

func changedSeatIDs(changes []reconcile.Change) []uint64 {
	ids := make([]uint64, 0, len(changes))
	for _, ch := range changes {
		ids = append(ids, ch.SeatID)
	}
	return ids
}

// serverLeaseID returns the id to send to the authority; provisional ids
// mean nothing there.
func serverLeaseID(l model.Lease) string {
	if l.Provisional {
		return ""
	}
	return l.ID
}

func callStatus(err error) string {
	var verr *model.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrNetworkUnavailable):
		return "network"
	case errors.Is(err, model.ErrServiceUnavailable):
		return "service"
	case errors.As(err, &verr):
		return "validation"
	}
	return "error"
}
