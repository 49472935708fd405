package model

import (
	"sort"
	"strings"
	"time"
)

// ProvisionalPrefix marks lease ids synthesized locally while the
// authority has not (yet) confirmed a lock.
const ProvisionalPrefix = "temp-"

// SeatSet is a set of seat ids.  The zero value is an empty set ready
// for reads; use NewSeatSet or Clone before writing.
type SeatSet map[uint64]struct{}

// NewSeatSet builds a set from the given ids, ignoring duplicates.
func NewSeatSet(ids ...uint64) SeatSet {
	s := make(SeatSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s SeatSet) Has(id uint64) bool {
	_, ok := s[id]
	return ok
}

func (s SeatSet) Clone() SeatSet {
	out := make(SeatSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the ids in ascending order.
func (s SeatSet) Sorted() []uint64 {
	out := make([]uint64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both sets hold exactly the same ids.
func (s SeatSet) Equal(o SeatSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// Lease is the time-bounded hold a session has over a set of seats.
// At most one lease is active per session.  A provisional lease is a
// local placeholder: either pending the authority's first confirmation
// or a short-lived fallback after the authority was unreachable.  It
// is never eligible for checkout.
//
// Fields:
//
//	ID          – opaque lease id (server issued, or ProvisionalPrefix + uuid).
//	SeatIDs     – seats covered by the lease.
//	ExpiresAt   – instant the lease stops being valid.
//	Provisional – true while the lease is not confirmed by the authority.
type Lease struct {
	ID          string
	SeatIDs     SeatSet
	ExpiresAt   time.Time
	Provisional bool
}

// IsProvisionalID reports whether id was synthesized locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Expired reports whether the lease is no longer valid at now.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Clone returns a deep copy so callers can never alias the tracker's set.
func (l Lease) Clone() Lease {
	l.SeatIDs = l.SeatIDs.Clone()
	return l
}
