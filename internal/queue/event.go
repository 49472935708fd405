// Package queue defines message payloads exchanged over the message broker
// and the push transports that deliver seat events to a session.
package queue

// CheckoutHandoffEvent is published when a session hands its lease over to
// the checkout flow.  It carries enough information for the payment side to
// pick up the order without querying the seat sync agent.
type CheckoutHandoffEvent struct {
	OrderID          string   `json:"order_id"`
	LeaseID          string   `json:"lease_id"`
	ShowtimeID       uint64   `json:"showtime_id"`
	Owner            string   `json:"owner"`
	SeatIDs          []uint64 `json:"seat_ids"`
	SeatLabels       []string `json:"seats"`
	TotalAmountCents int64    `json:"total_amount_cents"`
	Currency         string   `json:"currency"`
	LeaseExpiresAt   string   `json:"lease_expires_at"`
	HandedOffAt      string   `json:"handed_off_at"`
}
