package model

import "time"

// ActionKind enumerates the user-initiated actions that involve a
// network call to the authority.
type ActionKind uint8

const (
	ActionSelect ActionKind = iota + 1
	ActionDeselect
	ActionExtendLease
	ActionCheckout
	ActionRelease
)

func (k ActionKind) String() string {
	switch k {
	case ActionSelect:
		return "select"
	case ActionDeselect:
		return "deselect"
	case ActionExtendLease:
		return "extend_lease"
	case ActionCheckout:
		return "checkout"
	case ActionRelease:
		return "release"
	}
	return "unknown"
}

// PendingAction is the single in-flight action of a session.
type PendingAction struct {
	Kind          ActionKind
	TargetSeatIDs SeatSet
	SubmittedAt   time.Time
}

// Targets reports whether the action touches seatID.
func (p PendingAction) Targets(seatID uint64) bool {
	return p.TargetSeatIDs.Has(seatID)
}
