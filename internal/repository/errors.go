// Package repository holds the clients for the seat authority's HTTP
// API and the Redis-backed lease store.  Errors returned from the
// authority client always wrap one of the model failure values
// (model.ErrNetworkUnavailable, model.ErrServiceUnavailable or a
// *model.ValidationError) so higher layers can branch with errors.Is
// and errors.As without knowing about HTTP.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
)

// ErrForbidden is returned when the authority refuses the session's
// credentials (401/403).  It is not retryable without a new token.
var ErrForbidden = errors.New("forbidden")

// ErrConflict marks a 409 answer outside the lock call, e.g. an order
// for seats that were booked in the meantime.  It is always wrapped
// together with a *model.ValidationError.
var ErrConflict = errors.New("conflict")

// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed authority response")

// statusError maps a non-2xx answer onto the failure taxonomy.  body is
// the raw response body; FastAPI style {"detail": ...} payloads are
// unwrapped into the error reason.
func statusError(op string, code int, body []byte) error {
	reason := detailMessage(body)
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%s: status %d: %w", op, code, model.ErrServiceUnavailable)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", op, code, ErrForbidden)
	case code == http.StatusNotFound:
		if reason == "" {
			reason = "showtime not found"
		}
		return &model.ValidationError{Reason: reason}
	case code == http.StatusConflict:
		if reason == "" {
			reason = op + " conflicts with current seat state"
		}
		return fmt.Errorf("%w: %w", ErrConflict, &model.ValidationError{Reason: reason})
	default:
		if reason == "" {
			reason = fmt.Sprintf("%s rejected with status %d", op, code)
		}
		return &model.ValidationError{Reason: reason}
	}
}

// detailMessage extracts a readable reason from an error body.  The
// authority answers with {"detail": "text"}, {"detail": {"message": ...}}
// or, for request validation, {"detail": [{"msg": ...}, ...]}.
func detailMessage(body []byte) string {
	var env struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if len(env.Detail) == 0 {
		return env.Message
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(env.Detail, &obj); err == nil && (obj.Message != "" || obj.Reason != "") {
		if obj.Reason != "" {
			return obj.Reason
		}
		return obj.Message
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &list); err == nil {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			if e.Msg != "" {
				msgs = append(msgs, e.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return env.Message
}
