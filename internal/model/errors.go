package model

import (
	"errors"
	"fmt"
)

// Failure taxonomy surfaced to callers.  All of them are recoverable at
// the UI layer; none is fatal to the process.
var (
	// ErrSeatUnavailable is a local validation failure: the seat is
	// Booked, Blocked or locked by another owner.  No network call is made.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrLeaseExpired means the lease TTL elapsed locally or the
	// authority reported it gone.
	ErrLeaseExpired = errors.New("lease expired")
	// ErrNetworkUnavailable is a transport failure talking to the authority.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrServiceUnavailable is a 5xx/429 answer from the authority.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Local rejections that never reach the network.
var (
	ErrActionInFlight   = errors.New("another action is in flight for this seat")
	ErrDuplicateAction  = errors.New("duplicate action within debounce window")
	ErrSeatNotSelected  = errors.New("seat is not selected")
	ErrUnknownSeat      = errors.New("unknown seat")
	ErrNoSeatsSelected  = errors.New("no seats selected")
	ErrLeaseUnconfirmed = errors.New("lease is provisional and not eligible for checkout")
	ErrHandedOff        = errors.New("lease handed off to checkout")
)

// LockConflictError reports seats the authority refused or took away.
type LockConflictError struct {
	SeatIDs []uint64
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock conflict on seats %v", e.SeatIDs)
}

// ValidationError is a business-rule rejection from the authority.
// Retryable is set when the caller can start over (e.g. re-select
// seats) rather than correct its input.
type ValidationError struct {
	Reason    string
	Retryable bool
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return "validation failed"
	}
	return "validation failed: " + e.Reason
}

// IsRetryable reports whether the caller may retry the same action
// without changing its input.
func IsRetryable(err error) bool {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Retryable
	}
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrLeaseExpired)
}

// IsTransient reports whether err is a transport or service outage, as
// opposed to a definitive answer from the authority.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrServiceUnavailable)
}
