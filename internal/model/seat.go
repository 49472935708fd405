package model

import (
	"fmt"
	"strings"
)

// Category is the pricing tier a seat belongs to.  The set is closed:
// the authority only ever reports the tiers declared below.
type Category string

const (
	CategoryRegular Category = "REGULAR"
	CategoryPremium Category = "PREMIUM"
)

// ParseCategory maps a section or tier name reported by the authority
// ("Premium", "regular", ...) onto a Category.
func ParseCategory(raw string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "REGULAR", "STANDARD":
		return CategoryRegular, nil
	case "PREMIUM", "VIP":
		return CategoryPremium, nil
	}
	return "", fmt.Errorf("unknown seat category %q", raw)
}

// Seat describes one seat of a showtime's seat map.  Identity fields are
// created once from the authority's seat-map fetch and never change for
// the lifetime of a session.
//
// Fields:
//
//	ID         – numeric seat id, unique within the showtime.
//	Row        – row letter (A, B, ... AA).
//	Column     – ordinal of the seat within its row.
//	Category   – pricing tier.
//	PriceCents – price in currency minor units.
type Seat struct {
	ID         uint64
	Row        string
	Column     uint32
	Category   Category
	PriceCents int64
}

// Label returns the human readable seat label, e.g. "C7".
func (s Seat) Label() string {
	return fmt.Sprintf("%s%d", s.Row, s.Column)
}
