package utils // package utils provides helpers for session identity and control tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT parsing and signing
	"github.com/google/uuid"       // guest owner references
)

// ownerClaims lists the claims an owner reference is read from, in order
// of preference.
var ownerClaims = []string{"owner", "owner_ref", "sub", "user_id"}

// ControlToken represents a signed JWT accepted by the local control API
// along with its expiry.
type ControlToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// OwnerFromToken extracts the owner reference carried by a session token.
// The token is issued and verified by the seat authority, so its
// signature is not checked here; only the claims are read.  ok is false
// when the token cannot be decoded or holds none of the owner claims.
func OwnerFromToken(raw string) (owner string, ok bool) {
	if raw == "" {
		return "", false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", false
	}
	for _, k := range ownerClaims {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			// JSON numbers decode as float64; user ids are integral.
			return strconv.FormatInt(int64(v), 10), true
		}
	}
	return "", false
}

// ResolveOwner picks the session's owner reference: an explicit value
// wins, then the token's claims, then a freshly generated guest id.
func ResolveOwner(explicit, token string) string {
	if explicit != "" {
		return explicit
	}
	if owner, ok := OwnerFromToken(token); ok {
		return owner
	}
	return "guest-" + uuid.NewString()
}

// NewControlToken builds and signs an HS256 JWT for the control API.  The
// JWT includes the standard claims subject (sub), expiration (exp) and
// issued at (iat).
func NewControlToken(secret, subject string, ttl time.Duration) (ControlToken, error) {
	if secret == "" {
		return ControlToken{}, errors.New("control token secret is empty")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return ControlToken{}, err
	}
	return ControlToken{Token: signed, Exp: exp}, nil
}

// ParseControlToken verifies raw against secret and returns its claims.
// Only HMAC signing methods are accepted.
func ParseControlToken(secret, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
