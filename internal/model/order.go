package model

import "time"

// Order is the authority's answer to an order-creation call.  Once an
// order exists the lease it was created from is handed over to the
// checkout flow and must not be released by the session.
//
// Fields:
//
//	ID          – order id issued by the authority.
//	AmountCents – total amount in currency minor units.
//	Currency    – ISO currency code reported by the authority.
//	ExpiresAt   – payment deadline for the order.
type Order struct {
	ID          string
	AmountCents int64
	Currency    string
	ExpiresAt   time.Time
}

// OrderSeat is one line of an order request.
type OrderSeat struct {
	SeatID     uint64
	PriceCents int64
}
