package model

// EventType is the canonical type of a push event after normalization.
type EventType string

const (
	EventSeatLocked    EventType = "seat_locked"
	EventSeatReleased  EventType = "seat_released"
	EventSeatMapUpdate EventType = "seat_map_update"
	// EventRefreshHint asks the session to re-fetch the full seat map;
	// the authority sends it when it could not build a full update.
	EventRefreshHint  EventType = "refresh_hint"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// SeatUpdate is the status of one seat as reported by a push event.
type SeatUpdate struct {
	SeatID uint64
	Status StatusKind // Available, LockedByOther (any owner), Booked or Blocked
	Owner  string     // lock owner, empty when unknown
}

// Event is the single schema every push payload is normalized into
// before it reaches the reconciliation engine.
type Event struct {
	Type    EventType
	SeatID  uint64
	Owner   string
	Seats   []SeatUpdate
	Message string
}
