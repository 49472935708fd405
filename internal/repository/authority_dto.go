package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// flexID decodes a seat id sent either as a number, a numeric string or
// an object carrying seatId/seat_id/id.
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			SeatID  *flexID `json:"seatId"`
			SeatID2 *flexID `json:"seat_id"`
			ID      *flexID `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		for _, v := range []*flexID{obj.SeatID, obj.SeatID2, obj.ID} {
			if v != nil {
				*f = *v
				return nil
			}
		}
		return fmt.Errorf("seat object without id: %s", b)
	}
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("seat id %s: %w", b, err)
	}
	*f = flexID(n)
	return nil
}

func ids(in []flexID) []uint64 {
	out := make([]uint64, len(in))
	for i, v := range in {
		out[i] = uint64(v)
	}
	return out
}

// epochMillis decodes an instant sent as epoch milliseconds (number or
// numeric string) or as an RFC 3339 timestamp.  Non-positive millis mean
// the instant is absent and leave the zero time.
type epochMillis struct {
	time.Time
}

func (e *epochMillis) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f > 0 {
			e.Time = time.UnixMilli(int64(f)).UTC()
		}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			e.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// money is an amount in major currency units as the authority reports
// it (rupees), converted to minor units on read.
type money float64

func (m money) Cents() int64 { return int64(math.Round(float64(m) * 100)) }

func centsToMajor(c int64) float64 { return float64(c) / 100 }

type seatMapDTO struct {
	ShowtimeID uint64       `json:"showtime_id"`
	Sections   []sectionDTO `json:"sections"`
}

type sectionDTO struct {
	Name  string   `json:"name"`
	Price money    `json:"price"`
	Rows  []rowDTO `json:"rows"`
}

type rowDTO struct {
	Row   string    `json:"row"`
	Seats []seatDTO `json:"seats"`
}

type seatDTO struct {
	SeatID   flexID `json:"seat_id"`
	Row      string `json:"row"`
	Num      uint32 `json:"num"`
	Status   string `json:"status"`
	LockedBy string `json:"locked_by"`
	Price    *money `json:"price"`
}

type lockRequestDTO struct {
	SeatIDs []uint64 `json:"seat_ids"`
	Owner   string   `json:"owner"`
	TTLMs   int64    `json:"ttl_ms"`
	LockID  string   `json:"lock_id,omitempty"`
}

type conflictDTO struct {
	SeatID  *flexID `json:"seatId"`
	SeatID2 *flexID `json:"seat_id"`
	Owner   string  `json:"owner"`
}

func (c conflictDTO) id() (uint64, bool) {
	switch {
	case c.SeatID != nil:
		return uint64(*c.SeatID), true
	case c.SeatID2 != nil:
		return uint64(*c.SeatID2), true
	}
	return 0, false
}

type lockResponseDTO struct {
	Success   bool          `json:"success"`
	Locked    []flexID      `json:"locked"`
	Conflicts []conflictDTO `json:"conflicts"`
	TTLMs     int64         `json:"ttl_ms"`
	ExpiresAt epochMillis   `json:"expires_at"`
	LockID    string        `json:"lock_id"`
	LockID2   string        `json:"lockId"`
}

type extendRequestDTO struct {
	SeatIDs []uint64 `json:"seat_ids"`
	Owner   string   `json:"owner"`
	TTLMs   int64    `json:"ttl_ms"`
}

type extendResponseDTO struct {
	Extended []flexID `json:"extended"`
	NotOwned []flexID `json:"not_owned"`
	TTLMs    int64    `json:"ttl_ms"`
}

type unlockRequestDTO struct {
	Owner   string   `json:"owner"`
	SeatIDs []uint64 `json:"seat_ids,omitempty"`
	LockID  string   `json:"lockId,omitempty"`
}

type unlockResponseDTO struct {
	Released []flexID `json:"released"`
	NotOwned []flexID `json:"not_owned"`
	OK       bool     `json:"ok"`
}

type validateRequestDTO struct {
	ShowtimeID uint64   `json:"showtime_id"`
	SeatIDs    []uint64 `json:"seat_ids"`
	Owner      string   `json:"owner"`
	LockID     string   `json:"lock_id"`
}

type validateResponseDTO struct {
	Valid        bool     `json:"valid"`
	Reason       string   `json:"reason"`
	Message      string   `json:"message"`
	InvalidSeats []flexID `json:"invalid_seats"`
}

type orderSeatDTO struct {
	SeatID uint64  `json:"seatId"`
	Price  float64 `json:"price"`
}

type orderRequestDTO struct {
	ShowtimeID uint64         `json:"showtimeId"`
	Owner      string         `json:"owner"`
	LockID     string         `json:"lockId"`
	Seats      []orderSeatDTO `json:"seats"`
}

type orderResponseDTO struct {
	OrderID   string      `json:"orderId"`
	OrderID2  string      `json:"order_id"`
	Amount    money       `json:"amount"`
	Currency  string      `json:"currency"`
	ExpiresAt epochMillis `json:"expiresAt"`
}
