package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
)

// ErrIgnored is returned by Decode for keep-alive frames that carry no
// seat information.
var ErrIgnored = errors.New("ignored push frame")

// Field name variants observed on the push channel, in lookup order.
var (
	seatIDKeys = []string{"seat_id", "seatId", "seatID", "id"}
	ownerKeys  = []string{"locked_by", "lockedBy", "owner", "ownerRef", "owner_ref", "owner_token"}
	typeKeys   = []string{"type", "event"}
)

// Decode normalizes one push payload into the canonical model.Event.
// Seat ids may arrive as numbers or strings and owner references under
// several names; none of that reaches the engine.
func Decode(raw []byte) (model.Event, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Event{}, fmt.Errorf("decode push frame: %w", err)
	}
	typ := strings.ToLower(lookupString(env, typeKeys))

	switch typ {
	case "seat_locked", "seat_lock", "locked":
		id, owner, err := seatRef(env)
		if err != nil {
			return model.Event{}, fmt.Errorf("decode %s: %w", typ, err)
		}
		return model.Event{Type: model.EventSeatLocked, SeatID: id, Owner: owner}, nil

	case "seat_released", "seat_unlocked", "seat_release", "released":
		id, _, err := seatRef(env)
		if err != nil {
			return model.Event{}, fmt.Errorf("decode %s: %w", typ, err)
		}
		return model.Event{Type: model.EventSeatReleased, SeatID: id}, nil

	case "seat_update", "seat_map_update", "seats_update":
		var items []map[string]json.RawMessage
		if rs, ok := env["seats"]; ok {
			if err := json.Unmarshal(rs, &items); err != nil {
				return model.Event{}, fmt.Errorf("decode %s seats: %w", typ, err)
			}
		}
		ev := model.Event{Type: model.EventSeatMapUpdate, Seats: make([]model.SeatUpdate, 0, len(items))}
		for _, it := range items {
			id, ok := lookupUint(it, seatIDKeys)
			if !ok {
				continue
			}
			kind, ok := model.ParseStatusKind(lookupString(it, []string{"status"}))
			if !ok {
				continue
			}
			ev.Seats = append(ev.Seats, model.SeatUpdate{
				SeatID: id,
				Status: kind,
				Owner:  lookupString(it, ownerKeys),
			})
		}
		return ev, nil

	case "seat_update_partial", "refresh", "refresh_hint":
		return model.Event{Type: model.EventRefreshHint}, nil

	case "connected":
		return model.Event{Type: model.EventConnected}, nil
	case "disconnected":
		return model.Event{Type: model.EventDisconnected}, nil
	case "error":
		return model.Event{Type: model.EventError, Message: lookupString(env, []string{"message", "detail", "error"})}, nil

	case "ping", "pong", "heartbeat":
		return model.Event{}, ErrIgnored
	}
	return model.Event{}, fmt.Errorf("decode push frame: unknown type %q", typ)
}

// seatRef reads the seat id and owner either from a nested "seat"
// object or from the envelope itself.
func seatRef(env map[string]json.RawMessage) (uint64, string, error) {
	obj := env
	if nested, ok := env["seat"]; ok {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(nested, &m); err == nil {
			obj = m
		}
	}
	id, ok := lookupUint(obj, seatIDKeys)
	if !ok {
		if id, ok = lookupUint(env, seatIDKeys); !ok {
			return 0, "", errors.New("missing seat id")
		}
	}
	owner := lookupString(obj, ownerKeys)
	if owner == "" {
		owner = lookupString(env, ownerKeys)
	}
	return id, owner, nil
}

func lookupString(m map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n != "" {
			return n.String()
		}
	}
	return ""
}

func lookupUint(m map[string]json.RawMessage, keys []string) (uint64, bool) {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var n uint64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
