// Package reconcile merges the three inputs of a seat-selection session
// (full seat-map fetches, local optimistic actions and remote push
// events) into one consistent SeatMap.  The Engine is the only owner of
// the SeatMap and of the session's lease; every mutation goes through
// one of its apply methods and is serialized by a single mutex.
package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/lease"
	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
)

// Conflict reasons attached to model.Conflict.
const (
	ReasonLockedByOther = "locked_by_other"
	ReasonNotGranted    = "not_granted"
	ReasonNotOwned      = "not_owned"
	ReasonBooked        = "booked"
	ReasonBlocked       = "blocked"
)

// Options tunes an Engine.  Zero values are replaced by defaults.
type Options struct {
	RenewThreshold time.Duration    // forwarded to the lease tracker
	PendingTTL     time.Duration    // expiry of the provisional lease minted on first select
	NewLeaseID     func() string    // provisional lease id generator
	Logger         *zap.Logger
}

// Change records one optimistic transition so it can be reverted if
// the network call backing it fails.
type Change struct {
	SeatID  uint64
	Prior   model.SeatStatus
	Applied model.SeatStatus
}

// Outcome is what an apply call produced besides the new SeatMap.
type Outcome struct {
	// Conflicts holds at most one entry per seat; a seat already
	// reported is not reported again until it is selected anew.
	Conflicts []model.Conflict
	// Expired lists seats reverted to Available because the lease expired.
	Expired []uint64
	// Orphaned lists seats the authority granted to this owner that the
	// session no longer wants; the caller should release them.
	Orphaned []uint64
}

// Merge appends other into o.
func (o *Outcome) Merge(other Outcome) {
	o.Conflicts = append(o.Conflicts, other.Conflicts...)
	o.Expired = append(o.Expired, other.Expired...)
	o.Orphaned = append(o.Orphaned, other.Orphaned...)
}

// ConflictSeatIDs returns the seat ids of all conflicts in the outcome.
func (o Outcome) ConflictSeatIDs() []uint64 {
	ids := make([]uint64, 0, len(o.Conflicts))
	for _, c := range o.Conflicts {
		ids = append(ids, c.SeatID)
	}
	return ids
}

// Engine reconciles a session's SeatMap and lease.
type Engine struct {
	mu         sync.Mutex
	sc         model.SessionContext
	seats      *SeatMap
	tracker    *lease.Tracker
	notified   model.SeatSet
	unreported []uint64 // expired seats of transitions that returned no Outcome
	handoff    bool
	pendingTTL time.Duration
	newLeaseID func() string
	log        *zap.Logger
}

// NewEngine returns an engine with an empty SeatMap and no lease.
func NewEngine(sc model.SessionContext, opts Options) *Engine {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 3 * time.Minute
	}
	if opts.NewLeaseID == nil {
		opts.NewLeaseID = func() string { return model.ProvisionalPrefix + uuid.NewString() }
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	return &Engine{
		sc:         sc,
		seats:      emptySeatMap(),
		tracker:    lease.NewTracker(opts.RenewThreshold),
		notified:   model.SeatSet{},
		pendingTTL: opts.PendingTTL,
		newLeaseID: opts.NewLeaseID,
		log: opts.Logger.With(
			zap.Uint64("showtime_id", sc.ShowtimeID),
			zap.String("owner", sc.Owner),
		),
	}
}

// txn is one serialized state transition.  The SeatMap is copied on
// first write and published on commit.
type txn struct {
	e    *Engine
	now  time.Time
	next map[uint64]model.SeatState
	out  Outcome
}

// begin must be called with e.mu held.  Lease expiry is always processed
// first so no input is ever reconciled against an expired lease.
func (e *Engine) begin(now time.Time) *txn {
	t := &txn{e: e, now: now}
	t.expire()
	return t
}

func (t *txn) get(id uint64) (model.SeatState, bool) {
	if t.next != nil {
		st, ok := t.next[id]
		return st, ok
	}
	return t.e.seats.Get(id)
}

func (t *txn) set(id uint64, status model.SeatStatus) {
	if t.next == nil {
		t.next = make(map[uint64]model.SeatState, len(t.e.seats.seats))
		for k, v := range t.e.seats.seats {
			t.next[k] = v
		}
	}
	st := t.next[id]
	st.Status = status
	t.next[id] = st
}

func (t *txn) commit() Outcome {
	t.publish()
	if len(t.e.unreported) > 0 {
		t.out.Expired = append(t.e.unreported, t.out.Expired...)
		t.e.unreported = nil
	}
	return t.out
}

// commitQuiet publishes without returning an Outcome; expired seats are
// kept for the next commit.
func (t *txn) commitQuiet() {
	t.publish()
	t.e.unreported = append(t.e.unreported, t.out.Expired...)
}

func (t *txn) publish() {
	if t.next != nil {
		t.e.seats = &SeatMap{seats: t.next, order: t.e.seats.order}
		t.next = nil
	}
}

func (t *txn) expire() {
	if !t.e.tracker.Expired(t.now) {
		return
	}
	l, _ := t.e.tracker.Peek()
	for _, id := range l.SeatIDs.Sorted() {
		if st, ok := t.get(id); ok && st.Status.Kind == model.StatusLockedBySelf {
			t.set(id, model.Available)
			t.out.Expired = append(t.out.Expired, id)
		}
	}
	t.e.tracker.Clear()
	t.e.log.Info("lease expired",
		zap.String("lease_id", l.ID),
		zap.Uint64s("seat_ids", t.out.Expired),
	)
}

// leaseSeats returns the seats of the active lease (empty when none).
func (t *txn) leaseSeats() model.SeatSet {
	l, ok := t.e.tracker.Current(t.now)
	if !ok {
		return model.SeatSet{}
	}
	return l.SeatIDs
}

func (t *txn) removeFromLease(id uint64) {
	l, ok := t.e.tracker.Current(t.now)
	if !ok || !l.SeatIDs.Has(id) {
		return
	}
	delete(l.SeatIDs, id)
	t.e.tracker.Replace(l)
}

func (t *txn) addToLease(id uint64) {
	l, ok := t.e.tracker.Current(t.now)
	if !ok {
		l = model.Lease{
			ID:          t.e.newLeaseID(),
			SeatIDs:     model.SeatSet{},
			ExpiresAt:   t.now.Add(t.e.pendingTTL),
			Provisional: true,
		}
	}
	l.SeatIDs[id] = struct{}{}
	t.e.tracker.Replace(l)
}

// conflict takes a self-held seat away: the seat moves to status, leaves
// the lease, and is reported once.
func (t *txn) conflict(id uint64, status model.SeatStatus, owner, reason string) {
	t.set(id, status)
	t.removeFromLease(id)
	if t.e.notified.Has(id) {
		return
	}
	t.e.notified[id] = struct{}{}
	t.out.Conflicts = append(t.out.Conflicts, model.Conflict{SeatID: id, Owner: owner, Reason: reason})
	t.e.log.Warn("seat conflict",
		zap.Uint64("seat_id", id),
		zap.String("other_owner", owner),
		zap.String("reason", reason),
	)
}

func (t *txn) isSelf(owner string) bool {
	return owner != "" && owner == t.e.sc.Owner
}

// Load replaces the whole SeatMap with a fresh fetch.  Booked seats stay
// booked.  A seat the session holds stays LockedBySelf only if it is in
// the active lease and the authority does not attribute it to someone
// else.
func (e *Engine) Load(remote []model.RemoteSeat, now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	held := t.leaseSeats()
	prev := e.seats

	next := make(map[uint64]model.SeatState, len(remote))
	order := make([]uint64, 0, len(remote))
	for _, r := range remote {
		id := r.Seat.ID
		if _, dup := next[id]; dup {
			continue
		}
		order = append(order, id)
		next[id] = model.SeatState{Seat: r.Seat, Status: remoteStatus(r)}
	}
	t.next = next

	for _, id := range order {
		r := next[id]
		if old, ok := prev.Get(id); ok && old.Status.Terminal() {
			t.set(id, model.Booked)
			if held.Has(id) {
				t.removeFromLease(id)
			}
			continue
		}
		if held.Has(id) {
			switch r.Status.Kind {
			case model.StatusBooked:
				if e.handoff {
					t.removeFromLease(id)
				} else {
					t.conflict(id, model.Booked, "", ReasonBooked)
				}
			case model.StatusBlocked:
				t.conflict(id, model.Blocked, "", ReasonBlocked)
			case model.StatusLockedByOther:
				if r.Status.Owner != "" && !t.isSelf(r.Status.Owner) {
					t.conflict(id, r.Status, r.Status.Owner, ReasonLockedByOther)
				} else {
					t.set(id, model.LockedBySelf)
				}
			default:
				t.set(id, model.LockedBySelf)
			}
			continue
		}
		// A lock attributed to this owner but outside the lease is a
		// leftover from an earlier session; it is selectable again.
		if r.Status.Kind == model.StatusLockedByOther && t.isSelf(r.Status.Owner) {
			t.set(id, model.Available)
		}
	}
	for _, id := range held.Sorted() {
		if _, ok := next[id]; !ok {
			t.removeFromLease(id)
			e.log.Warn("leased seat missing from seat map", zap.Uint64("seat_id", id))
		}
	}

	e.seats = &SeatMap{seats: t.next, order: order}
	t.next = nil
	return t.commit()
}

func remoteStatus(r model.RemoteSeat) model.SeatStatus {
	switch r.Status {
	case model.StatusLockedByOther, model.StatusLockedBySelf:
		return model.LockedByOther(r.Owner)
	case model.StatusBooked:
		return model.Booked
	case model.StatusBlocked:
		return model.Blocked
	}
	return model.Available
}

// ApplyEvent reconciles one normalized push event.  Bulk updates are
// applied inside a single transition.
func (e *Engine) ApplyEvent(ev model.Event, now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	switch ev.Type {
	case model.EventSeatLocked:
		t.applyLocked(ev.SeatID, ev.Owner)
	case model.EventSeatReleased:
		t.applyReleased(ev.SeatID)
	case model.EventSeatMapUpdate:
		for _, u := range ev.Seats {
			switch u.Status {
			case model.StatusLockedByOther, model.StatusLockedBySelf:
				t.applyLocked(u.SeatID, u.Owner)
			case model.StatusBooked:
				t.applyBooked(u.SeatID)
			case model.StatusBlocked:
				t.applyBlocked(u.SeatID)
			default:
				t.applyReleased(u.SeatID)
			}
		}
	}
	return t.commit()
}

func (t *txn) applyLocked(id uint64, owner string) {
	cur, ok := t.get(id)
	if !ok || cur.Status.Terminal() || cur.Status.Kind == model.StatusBlocked {
		return
	}
	if t.isSelf(owner) {
		return
	}
	switch cur.Status.Kind {
	case model.StatusLockedBySelf:
		if owner == "" {
			// No owner of record: nothing contradicts the selection.
			return
		}
		t.conflict(id, model.LockedByOther(owner), owner, ReasonLockedByOther)
	case model.StatusLockedByOther:
		if cur.Status.Owner != owner {
			t.set(id, model.LockedByOther(owner))
		}
	default:
		t.set(id, model.LockedByOther(owner))
	}
}

func (t *txn) applyReleased(id uint64) {
	cur, ok := t.get(id)
	if !ok || cur.Status.Kind != model.StatusLockedByOther {
		return
	}
	t.set(id, model.Available)
}

func (t *txn) applyBooked(id uint64) {
	cur, ok := t.get(id)
	if !ok || cur.Status.Terminal() {
		return
	}
	if cur.Status.Kind == model.StatusLockedBySelf {
		if t.e.handoff {
			t.set(id, model.Booked)
			t.removeFromLease(id)
			return
		}
		t.conflict(id, model.Booked, "", ReasonBooked)
		return
	}
	t.set(id, model.Booked)
}

func (t *txn) applyBlocked(id uint64) {
	cur, ok := t.get(id)
	if !ok || cur.Status.Terminal() || cur.Status.Kind == model.StatusBlocked {
		return
	}
	if cur.Status.Kind == model.StatusLockedBySelf {
		t.conflict(id, model.Blocked, "", ReasonBlocked)
		return
	}
	t.set(id, model.Blocked)
}

// Select marks a seat LockedBySelf ahead of network confirmation.  When
// no lease exists a provisional one is minted.  Selecting a seat that is
// already held is a no-op reported through Change.Applied == Prior.
func (e *Engine) Select(id uint64, now time.Time) (Change, Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	cur, ok := t.get(id)
	if !ok {
		return Change{}, t.commit(), fmt.Errorf("select seat %d: %w", id, model.ErrUnknownSeat)
	}
	switch cur.Status.Kind {
	case model.StatusAvailable:
	case model.StatusLockedBySelf:
		return Change{SeatID: id, Prior: cur.Status, Applied: cur.Status}, t.commit(), nil
	default:
		return Change{}, t.commit(), fmt.Errorf("select seat %d (%s): %w", id, cur.Status.Kind, model.ErrSeatUnavailable)
	}
	t.set(id, model.LockedBySelf)
	t.addToLease(id)
	delete(e.notified, id)
	return Change{SeatID: id, Prior: cur.Status, Applied: model.LockedBySelf}, t.commit(), nil
}

// Deselect marks a held seat Available immediately.  The lease keeps
// its id even when its seat set becomes empty; ClearLease drops it once
// the authority acknowledged the release.
func (e *Engine) Deselect(id uint64, now time.Time) (Change, Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	cur, ok := t.get(id)
	if !ok {
		return Change{}, t.commit(), fmt.Errorf("deselect seat %d: %w", id, model.ErrUnknownSeat)
	}
	if cur.Status.Kind != model.StatusLockedBySelf {
		return Change{}, t.commit(), fmt.Errorf("deselect seat %d: %w", id, model.ErrSeatNotSelected)
	}
	t.set(id, model.Available)
	t.removeFromLease(id)
	return Change{SeatID: id, Prior: cur.Status, Applied: model.Available}, t.commit(), nil
}

// ConfirmLock applies the authority's answer to a lock request for the
// requested seats.  confirmed holds the requested seats the authority
// had already locked for the session before this call; a refused call
// leaves those locks in place, so they are kept unless the answer names
// another owner for them.  Newly requested seats missing from the grant
// go back to Available and are reported as not granted.
//
// The answer is re-validated against the current state: seats
// deselected or expired while the call was in flight are reported as
// orphaned instead of being re-selected, and seats selected after the
// request was sent are kept.
func (e *Engine) ConfirmLock(requested, confirmed model.SeatSet, grant model.LockGrant, now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	byseat := make(map[uint64]model.LockConflict, len(grant.Conflicts))
	for _, c := range grant.Conflicts {
		byseat[c.SeatID] = c
	}

	keep := model.SeatSet{}
	for _, id := range t.leaseSeats().Sorted() {
		c, reported := byseat[id]
		switch {
		case !requested.Has(id), grant.Granted.Has(id), reported && t.isSelf(c.Owner):
			keep[id] = struct{}{}
		case reported:
			t.conflict(id, model.LockedByOther(c.Owner), c.Owner, conflictReason(c))
		case confirmed.Has(id):
			keep[id] = struct{}{}
		default:
			t.conflict(id, model.Available, "", ReasonNotGranted)
		}
	}
	for _, id := range grant.Granted.Sorted() {
		if keep.Has(id) {
			continue
		}
		if st, ok := t.get(id); !ok || st.Status.Kind != model.StatusLockedBySelf {
			t.out.Orphaned = append(t.out.Orphaned, id)
		}
	}

	if len(keep) == 0 {
		e.tracker.Clear()
		return t.commit()
	}
	next := model.Lease{ID: grant.LeaseID, SeatIDs: keep, ExpiresAt: grant.ExpiresAt}
	if len(grant.Granted) == 0 {
		// Nothing new was locked: the lease the kept seats live under is
		// unchanged.
		if cur, ok := e.tracker.Current(now); ok {
			next.ID, next.ExpiresAt, next.Provisional = cur.ID, cur.ExpiresAt, cur.Provisional
		}
	}
	e.tracker.Replace(next)
	e.log.Debug("lock confirmed",
		zap.String("lease_id", next.ID),
		zap.Uint64s("seat_ids", keep.Sorted()),
		zap.Time("expires_at", next.ExpiresAt),
	)
	return t.commit()
}

func conflictReason(c model.LockConflict) string {
	if c.Reason != "" {
		return c.Reason
	}
	return ReasonLockedByOther
}

// RevertAction undoes optimistic changes after their network call
// failed.  A seat is only reverted while it still carries the status the
// change applied; anything that happened since (a push event, expiry)
// wins.
func (e *Engine) RevertAction(changes []Change, now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	for _, c := range changes {
		if c.Prior == c.Applied {
			continue
		}
		cur, ok := t.get(c.SeatID)
		if !ok || cur.Status != c.Applied {
			continue
		}
		switch c.Applied.Kind {
		case model.StatusLockedBySelf:
			t.set(c.SeatID, c.Prior)
			t.removeFromLease(c.SeatID)
		case model.StatusAvailable:
			if c.Prior.Kind != model.StatusLockedBySelf {
				t.set(c.SeatID, c.Prior)
				continue
			}
			// Only restore into a lease that is still alive.
			if _, ok := e.tracker.Current(now); ok {
				t.set(c.SeatID, model.LockedBySelf)
				t.addToLease(c.SeatID)
			}
		}
	}
	return t.commit()
}

// FallbackProvisional turns an unconfirmed lease into a short-lived
// local-only lease so the user is not blocked while the authority is
// unreachable.  A confirmed lease is left untouched.
func (e *Engine) FallbackProvisional(ttl time.Duration, now time.Time) (model.Lease, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	defer t.commitQuiet()
	l, ok := e.tracker.Current(now)
	if !ok || !l.Provisional {
		return l, ok
	}
	if len(l.SeatIDs) == 0 {
		e.tracker.Clear()
		return model.Lease{}, false
	}
	l.ExpiresAt = now.Add(ttl)
	e.tracker.Replace(l)
	return l, true
}

// ApplyRenewal installs the new expiry of leaseID.  A renewal for a
// lease that is no longer current is discarded.
func (e *Engine) ApplyRenewal(leaseID string, expiresAt time.Time, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	defer t.commitQuiet()
	l, ok := e.tracker.Current(now)
	if !ok || l.Provisional || l.ID != leaseID || !expiresAt.After(now) {
		return false
	}
	l.ExpiresAt = expiresAt
	e.tracker.Replace(l)
	return true
}

// ApplyRenewalConflict takes away seats the authority no longer
// attributes to this owner during a renewal.
func (e *Engine) ApplyRenewalConflict(leaseID string, notOwned []uint64, now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	l, ok := e.tracker.Current(now)
	if !ok || l.ID != leaseID {
		return t.commit()
	}
	for _, id := range notOwned {
		if l.SeatIDs.Has(id) {
			t.conflict(id, model.Available, "", ReasonNotOwned)
		}
	}
	return t.commit()
}

// Expire reverts every seat of an expired lease to Available and clears
// the lease.  It is safe to call on every tick.
func (e *Engine) Expire(now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.begin(now).commit()
}

// ReleaseAll drops the lease (even an expired one) and reverts every
// self-held seat to Available.  The dropped lease is returned so the
// caller can release it on the authority.
func (e *Engine) ReleaseAll(now time.Time) (model.Lease, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.tracker.Peek()
	t := &txn{e: e, now: now}
	for id, st := range e.seats.seats {
		if st.Status.Kind == model.StatusLockedBySelf {
			t.set(id, model.Available)
		}
	}
	e.tracker.Clear()
	e.unreported = nil
	t.publish()
	return l, ok
}

// ClearLease drops the lease if it no longer covers any seat.
func (e *Engine) ClearLease(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	defer t.commitQuiet()
	if l, ok := e.tracker.Current(now); ok && len(l.SeatIDs) == 0 {
		e.tracker.Clear()
	}
}

// SetHandingOff records that the lease was handed to checkout: booked
// events for held seats are then the session's own booking, not a
// conflict.
func (e *Engine) SetHandingOff() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handoff = true
}

// Lease returns the active lease.
func (e *Engine) Lease(now time.Time) (model.Lease, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	defer t.commitQuiet()
	return e.tracker.Current(now)
}

// SecondsRemaining returns the whole seconds left on the active lease.
func (e *Engine) SecondsRemaining(now time.Time) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	defer t.commitQuiet()
	return e.tracker.SecondsRemaining(now)
}

// ShouldRenew reports whether the confirmed lease needs extending.
func (e *Engine) ShouldRenew(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	defer t.commitQuiet()
	return e.tracker.ShouldRenew(now)
}

// SelfSeatIDs returns the seats the session currently holds.
func (e *Engine) SelfSeatIDs(now time.Time) model.SeatSet {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	defer t.commitQuiet()
	return t.leaseSeats()
}

// Seats returns the current SeatMap.  The returned value is immutable
// and safe to share.
func (e *Engine) Seats() *SeatMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seats
}

// Snapshot builds the read-only view for the checkout collaborator.
// Connectivity and handoff flags are filled in by the session.
func (e *Engine) Snapshot(now time.Time) model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(now)
	t.commitQuiet()
	snap := model.Snapshot{ShowtimeID: e.sc.ShowtimeID, SelectedSeats: []model.Seat{}}
	l, ok := e.tracker.Current(now)
	if !ok {
		return snap
	}
	for _, id := range e.seats.order {
		if !l.SeatIDs.Has(id) {
			continue
		}
		st := e.seats.seats[id]
		snap.SelectedSeats = append(snap.SelectedSeats, st.Seat)
		snap.TotalPriceCents += st.Seat.PriceCents
	}
	exp := l.ExpiresAt
	secs, _ := e.tracker.SecondsRemaining(now)
	snap.LeaseID = l.ID
	snap.ExpiresAt = &exp
	snap.SecondsRemaining = &secs
	snap.Provisional = l.Provisional
	return snap
}
