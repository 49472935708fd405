package model

import "time"

// SessionContext is the explicit, session-scoped identity passed to
// every component at construction.  Nothing in the engine reads
// process-wide state.
type SessionContext struct {
	ShowtimeID uint64
	Owner      string // owner reference distinguishing this session's locks
	Token      string // bearer token forwarded to the authority, may be empty
}

// RemoteSeat is one entry of the authority's seat-map fetch.
type RemoteSeat struct {
	Seat   Seat
	Status StatusKind // Available, LockedByOther (any owner), Booked or Blocked
	Owner  string
}

// LockRequest asks the authority to lock SeatIDs for Owner.
type LockRequest struct {
	ShowtimeID uint64
	Owner      string
	SeatIDs    []uint64
	TTL        time.Duration
	LeaseID    string
}

// LockConflict is one seat the authority refused to lock.
type LockConflict struct {
	SeatID uint64
	Owner  string
	Reason string
}

// LockGrant is the authority's answer to a LockRequest.  A grant may be
// partial: requested seats missing from Granted were refused.
type LockGrant struct {
	LeaseID   string
	ExpiresAt time.Time
	Granted   SeatSet
	Conflicts []LockConflict
}

// ExtendRequest extends the TTL of an existing lease.
type ExtendRequest struct {
	ShowtimeID uint64
	LeaseID    string
	Owner      string
	SeatIDs    []uint64
	TTL        time.Duration
}

// ExtendResult is the authority's answer to an ExtendRequest.  NotOwned
// lists seats the authority no longer attributes to the owner.
type ExtendResult struct {
	ExpiresAt time.Time
	NotOwned  []uint64
}

// ReleaseRequest releases a lease.  Empty SeatIDs releases every seat
// held by Owner for the showtime.
type ReleaseRequest struct {
	ShowtimeID uint64
	Owner      string
	LeaseID    string
	SeatIDs    []uint64
}

// ValidateRequest is the pre-commit check run before order creation.
type ValidateRequest struct {
	ShowtimeID uint64
	LeaseID    string
	Owner      string
	SeatIDs    []uint64
}

// Validation is the authority's verdict on a ValidateRequest.
type Validation struct {
	Valid        bool
	Reason       string
	InvalidSeats []uint64
}

// OrderRequest creates an order from a validated lease.
type OrderRequest struct {
	ShowtimeID uint64
	LeaseID    string
	Owner      string
	Seats      []OrderSeat
}
