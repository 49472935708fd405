// Package lease tracks the single active lease of a seat-selection
// session.  It performs no I/O; every method is pure computation over
// the wall-clock instant supplied by the caller.
package lease

import (
	"math"
	"time"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
)

// DefaultRenewThreshold is the remaining time below which a confirmed
// lease should be extended.
const DefaultRenewThreshold = 30 * time.Second

// Tracker owns the current lease id, its expiry and the seats it covers.
// It is not safe for concurrent use; the reconciliation engine is its
// only owner and serializes access.
type Tracker struct {
	current   *model.Lease
	threshold time.Duration
}

// NewTracker returns an empty tracker.  A non-positive threshold falls
// back to DefaultRenewThreshold.
func NewTracker(threshold time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultRenewThreshold
	}
	return &Tracker{threshold: threshold}
}

// Peek returns the stored lease even when it has expired.  Only the
// expiry path uses it, to learn which seats to revert before clearing.
func (t *Tracker) Peek() (model.Lease, bool) {
	if t.current == nil {
		return model.Lease{}, false
	}
	return t.current.Clone(), true
}

// Current returns the active lease.  An expired lease is purged first
// and reported as absent.
func (t *Tracker) Current(now time.Time) (model.Lease, bool) {
	if t.current == nil {
		return model.Lease{}, false
	}
	if t.current.Expired(now) {
		t.current = nil
		return model.Lease{}, false
	}
	return t.current.Clone(), true
}

// Expired reports whether a lease is stored but no longer valid at now.
func (t *Tracker) Expired(now time.Time) bool {
	return t.current != nil && t.current.Expired(now)
}

// SecondsRemaining returns the whole seconds left on the active lease,
// rounded up so a valid lease never reports zero.
func (t *Tracker) SecondsRemaining(now time.Time) (int, bool) {
	l, ok := t.Current(now)
	if !ok {
		return 0, false
	}
	return int(math.Ceil(l.ExpiresAt.Sub(now).Seconds())), true
}

// ShouldRenew is true when a confirmed lease is active and its remaining
// time fell below the renewal threshold.  Provisional leases are never
// renewed: there is nothing on the authority to extend.
func (t *Tracker) ShouldRenew(now time.Time) bool {
	l, ok := t.Current(now)
	if !ok || l.Provisional {
		return false
	}
	return l.ExpiresAt.Sub(now) < t.threshold
}

// Replace installs l as the active lease.
func (t *Tracker) Replace(l model.Lease) {
	c := l.Clone()
	if c.SeatIDs == nil {
		c.SeatIDs = model.SeatSet{}
	}
	t.current = &c
}

// Clear drops the active lease.
func (t *Tracker) Clear() {
	t.current = nil
}
