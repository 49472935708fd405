package model

import "strings"

// StatusKind enumerates the states a seat can be in from the point of
// view of one session.
type StatusKind uint8

const (
	StatusAvailable StatusKind = iota
	StatusLockedBySelf
	StatusLockedByOther
	StatusBooked
	StatusBlocked
)

func (k StatusKind) String() string {
	switch k {
	case StatusAvailable:
		return "available"
	case StatusLockedBySelf:
		return "locked_by_self"
	case StatusLockedByOther:
		return "locked_by_other"
	case StatusBooked:
		return "booked"
	case StatusBlocked:
		return "blocked"
	}
	return "unknown"
}

// SeatStatus is the status variant of a seat.  Owner is only meaningful
// for StatusLockedByOther and holds the other session's owner reference
// (it may be empty when the authority did not disclose it).
type SeatStatus struct {
	Kind  StatusKind
	Owner string
}

var (
	Available    = SeatStatus{Kind: StatusAvailable}
	LockedBySelf = SeatStatus{Kind: StatusLockedBySelf}
	Booked       = SeatStatus{Kind: StatusBooked}
	Blocked      = SeatStatus{Kind: StatusBlocked}
)

// LockedByOther builds the status of a seat held by another owner.
func LockedByOther(owner string) SeatStatus {
	return SeatStatus{Kind: StatusLockedByOther, Owner: owner}
}

// Terminal reports whether no further transition is allowed for the
// seat within the current showtime session.
func (s SeatStatus) Terminal() bool { return s.Kind == StatusBooked }

// SeatState pairs a seat with its current status inside a SeatMap.
type SeatState struct {
	Seat   Seat
	Status SeatStatus
}

// ParseStatusKind maps a wire status ("available", "locked", "booked",
// "blocked" and their common synonyms) onto a StatusKind.  A lock is
// always reported as StatusLockedByOther; whether it is ours is decided
// by comparing owners.
func ParseStatusKind(raw string) (StatusKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "available", "free", "open", "":
		return StatusAvailable, true
	case "locked", "held", "reserved", "selected", "locked_by_other", "locked_by_self":
		return StatusLockedByOther, true
	case "booked", "sold", "confirmed":
		return StatusBooked, true
	case "blocked", "unavailable", "disabled":
		return StatusBlocked, true
	}
	return StatusAvailable, false
}
