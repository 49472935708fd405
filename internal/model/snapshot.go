package model

import "time"

// Snapshot is the read-only view handed to the booking/checkout
// collaborator.
type Snapshot struct {
	ShowtimeID       uint64     `json:"showtime_id"`
	SelectedSeats    []Seat     `json:"selected_seats"`
	TotalPriceCents  int64      `json:"total_price_cents"`
	LeaseID          string     `json:"lease_id,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	SecondsRemaining *int       `json:"seconds_remaining,omitempty"`
	Provisional      bool       `json:"provisional"`
	HandingOff       bool       `json:"handing_off"`
	Connectivity     ConnStatus `json:"connectivity"`
}

// ConnStatus is the push channel connectivity reported by the supervisor.
type ConnStatus string

const (
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
	// ConnGaveUp means automatic reconnection stopped; selections stay
	// usable and are confirmed through lock calls only.
	ConnGaveUp ConnStatus = "persistently_disconnected"
)

// NoticeKind classifies user-facing notices emitted by a session.
type NoticeKind string

const (
	NoticeConflict     NoticeKind = "conflict"
	NoticeLeaseExpired NoticeKind = "lease_expired"
	NoticeRenewFailed  NoticeKind = "renew_failed"
	NoticeConnectivity NoticeKind = "connectivity"
	NoticeActionFailed NoticeKind = "action_failed"
)

// Notice is a single notification surfaced to the caller.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	SeatIDs []uint64   `json:"seat_ids,omitempty"`
	Owner   string     `json:"owner,omitempty"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// Conflict records one seat whose assumed self-ownership was
// contradicted by the authority.
type Conflict struct {
	SeatID uint64
	Owner  string // owner reported by the authority, may be empty
	Reason string
}
