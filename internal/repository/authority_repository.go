package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
)

const maxBodyBytes = 1 << 20

// AuthorityRepo talks to the seat authority's HTTP API.  It is safe for
// concurrent use.  A repo is bound to at most one bearer token; use
// WithToken to derive a per-session copy that shares the HTTP client.
//
// Fields:
//
//	baseURL – API root, e.g. "http://localhost:8000/api".
//	client  – shared HTTP client; its Timeout bounds every call.
//	token   – bearer token forwarded as the Authorization header.
//	now     – clock used to derive expiries from relative TTLs.
type AuthorityRepo struct {
	baseURL string
	client  *http.Client
	token   string
	now     func() time.Time
	log     *zap.Logger
}

// NewAuthorityRepo returns a client for the authority at baseURL.  A nil
// client gets a default with a 10 second timeout.
func NewAuthorityRepo(baseURL string, client *http.Client, log *zap.Logger) *AuthorityRepo {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.Get()
	}
	return &AuthorityRepo{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     time.Now,
		log:     log.Named("authority"),
	}
}

// WithToken returns a copy of r that authenticates with token.
func (r *AuthorityRepo) WithToken(token string) *AuthorityRepo {
	cp := *r
	cp.token = token
	return &cp
}

// FetchSeatMap returns every seat of the showtime with its current
// status as seen by the authority.
func (r *AuthorityRepo) FetchSeatMap(ctx context.Context, showtimeID uint64) ([]model.RemoteSeat, error) {
	var dto seatMapDTO
	path := fmt.Sprintf("/showtimes/%d/seats", showtimeID)
	if _, err := r.do(ctx, "fetch seat map", http.MethodGet, path, nil, &dto, nil); err != nil {
		return nil, err
	}
	var out []model.RemoteSeat
	for _, sec := range dto.Sections {
		cat, err := model.ParseCategory(sec.Name)
		if err != nil {
			r.log.Warn("unknown section, treating as regular", zap.String("section", sec.Name))
			cat = model.CategoryRegular
		}
		for _, row := range sec.Rows {
			for _, s := range row.Seats {
				kind, ok := model.ParseStatusKind(s.Status)
				if !ok {
					r.log.Warn("unknown seat status, treating as blocked",
						zap.Uint64("seat_id", uint64(s.SeatID)), zap.String("status", s.Status))
					kind = model.StatusBlocked
				}
				price := sec.Price.Cents()
				if s.Price != nil {
					price = s.Price.Cents()
				}
				rowName := s.Row
				if rowName == "" {
					rowName = row.Row
				}
				out = append(out, model.RemoteSeat{
					Seat: model.Seat{
						ID:         uint64(s.SeatID),
						Row:        rowName,
						Column:     s.Num,
						Category:   cat,
						PriceCents: price,
					},
					Status: kind,
					Owner:  s.LockedBy,
				})
			}
		}
	}
	r.log.Debug("seat map fetched", zap.Uint64("showtime_id", showtimeID), zap.Int("seats", len(out)))
	return out, nil
}

// LockSeats asks the authority to lock req.SeatIDs.  A 409 answer is a
// conflict grant, not an error: the returned grant lists the seats that
// were refused.  Granted holds exactly the seats the authority reports
// as locked; locking is all or nothing, so a refusal grants none.
func (r *AuthorityRepo) LockSeats(ctx context.Context, req model.LockRequest) (model.LockGrant, error) {
	body := lockRequestDTO{
		SeatIDs: req.SeatIDs,
		Owner:   req.Owner,
		TTLMs:   req.TTL.Milliseconds(),
		LockID:  req.LeaseID,
	}
	if model.IsProvisionalID(body.LockID) {
		body.LockID = ""
	}
	var dto lockResponseDTO
	var conflict struct {
		Detail lockResponseDTO `json:"detail"`
	}
	path := fmt.Sprintf("/showtimes/%d/redis-lock-seats", req.ShowtimeID)
	code, err := r.do(ctx, "lock seats", http.MethodPost, path, body, &dto,
		map[int]any{http.StatusConflict: &conflict})
	if err != nil {
		return model.LockGrant{}, err
	}
	if code == http.StatusConflict {
		dto = conflict.Detail
	}
	return r.grant(req, dto), nil
}

func (r *AuthorityRepo) grant(req model.LockRequest, dto lockResponseDTO) model.LockGrant {
	g := model.LockGrant{ExpiresAt: dto.ExpiresAt.Time, Granted: model.NewSeatSet(ids(dto.Locked)...)}
	for _, c := range dto.Conflicts {
		id, ok := c.id()
		if !ok {
			continue
		}
		g.Conflicts = append(g.Conflicts, model.LockConflict{SeatID: id, Owner: c.Owner, Reason: "locked"})
	}
	if g.ExpiresAt.IsZero() {
		ttl := time.Duration(dto.TTLMs) * time.Millisecond
		if ttl <= 0 {
			ttl = req.TTL
		}
		g.ExpiresAt = r.now().Add(ttl).UTC()
	}
	switch {
	case dto.LockID != "":
		g.LeaseID = dto.LockID
	case dto.LockID2 != "":
		g.LeaseID = dto.LockID2
	default:
		g.LeaseID = req.Owner + ":" + strconv.FormatInt(g.ExpiresAt.UnixMilli(), 10)
	}
	return g
}

// ExtendLease refreshes the TTL of the owner's locks.  Seats the
// authority no longer attributes to the owner come back in NotOwned.
func (r *AuthorityRepo) ExtendLease(ctx context.Context, req model.ExtendRequest) (model.ExtendResult, error) {
	body := extendRequestDTO{SeatIDs: req.SeatIDs, Owner: req.Owner, TTLMs: req.TTL.Milliseconds()}
	var dto extendResponseDTO
	path := fmt.Sprintf("/showtimes/%d/redis-extend-locks", req.ShowtimeID)
	if _, err := r.do(ctx, "extend lease", http.MethodPost, path, body, &dto, nil); err != nil {
		return model.ExtendResult{}, err
	}
	ttl := time.Duration(dto.TTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = req.TTL
	}
	return model.ExtendResult{
		ExpiresAt: r.now().Add(ttl).UTC(),
		NotOwned:  ids(dto.NotOwned),
	}, nil
}

// ReleaseLease releases req.SeatIDs, or every seat of the owner when
// the list is empty.  Releasing seats the owner does not hold is not an
// error.
func (r *AuthorityRepo) ReleaseLease(ctx context.Context, req model.ReleaseRequest) error {
	body := unlockRequestDTO{Owner: req.Owner, SeatIDs: req.SeatIDs, LockID: req.LeaseID}
	var dto unlockResponseDTO
	path := fmt.Sprintf("/showtimes/%d/redis-unlock-seats", req.ShowtimeID)
	if _, err := r.do(ctx, "release lease", http.MethodPost, path, body, &dto, nil); err != nil {
		return err
	}
	if len(dto.NotOwned) > 0 {
		r.log.Debug("release skipped seats not owned", zap.Uint64s("seat_ids", ids(dto.NotOwned)))
	}
	return nil
}

// ValidateLease runs the pre-commit check.  An invalid lease is a
// normal answer with Valid false, not an error.
func (r *AuthorityRepo) ValidateLease(ctx context.Context, req model.ValidateRequest) (model.Validation, error) {
	body := validateRequestDTO{
		ShowtimeID: req.ShowtimeID,
		SeatIDs:    req.SeatIDs,
		Owner:      req.Owner,
		LockID:     req.LeaseID,
	}
	var dto validateResponseDTO
	if _, err := r.do(ctx, "validate lease", http.MethodPost, "/payments/validate-locks", body, &dto, nil); err != nil {
		return model.Validation{}, err
	}
	v := model.Validation{Valid: dto.Valid, InvalidSeats: ids(dto.InvalidSeats), Reason: dto.Reason}
	if !v.Valid && v.Reason == "" {
		v.Reason = dto.Message
	}
	return v, nil
}

// CreateOrder creates an order for the validated lease.
func (r *AuthorityRepo) CreateOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	body := orderRequestDTO{ShowtimeID: req.ShowtimeID, Owner: req.Owner, LockID: req.LeaseID}
	for _, s := range req.Seats {
		body.Seats = append(body.Seats, orderSeatDTO{SeatID: s.SeatID, Price: centsToMajor(s.PriceCents)})
	}
	var dto orderResponseDTO
	if _, err := r.do(ctx, "create order", http.MethodPost, "/payments/create-order", body, &dto, nil); err != nil {
		return model.Order{}, err
	}
	id := dto.OrderID
	if id == "" {
		id = dto.OrderID2
	}
	if id == "" {
		return model.Order{}, fmt.Errorf("create order: missing order id: %w", ErrMalformedResponse)
	}
	return model.Order{
		ID:          id,
		AmountCents: dto.Amount.Cents(),
		Currency:    dto.Currency,
		ExpiresAt:   dto.ExpiresAt.Time,
	}, nil
}

// do sends one JSON request and decodes a 2xx answer into out.  Status
// codes listed in alt are decoded into their target instead of being
// mapped to an error; the status code is returned so the caller can
// tell which target was filled.
func (r *AuthorityRepo) do(ctx context.Context, op, method, path string, in, out any, alt map[int]any) (int, error) {
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return 0, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return 0, fmt.Errorf("%s: %v: %w", op, err, model.ErrNetworkUnavailable)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s: read body: %v: %w", op, err, model.ErrNetworkUnavailable)
	}

	target := out
	if t, ok := alt[resp.StatusCode]; ok {
		target = t
	} else if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.log.Debug("authority rejected call",
			zap.String("op", op), zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return resp.StatusCode, statusError(op, resp.StatusCode, raw)
	}
	if target != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, target); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: %v: %w", op, err, ErrMalformedResponse)
		}
	}
	return resp.StatusCode, nil
}
