package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-sync/internal/model"
)

// StoredLease is the persisted form of a server-confirmed lease.  It
// lets a restarted process release locks left behind by a previous run
// for the same showtime and owner.
type StoredLease struct {
	LeaseID    string    `json:"lease_id"`
	ShowtimeID uint64    `json:"showtime_id"`
	Owner      string    `json:"owner"`
	SeatIDs    []uint64  `json:"seat_ids"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LeaseStore persists the active lease of each (showtime, owner) pair in
// Redis.  Entries carry the lease's remaining TTL so Redis drops them
// once the lease could no longer be held anyway.
type LeaseStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewLeaseStore returns a store writing keys under prefix.  rdb may be
// nil, in which case every method is a no-op.
func NewLeaseStore(rdb *redis.Client, prefix string) *LeaseStore {
	if prefix == "" {
		prefix = "seatsync"
	}
	return &LeaseStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *LeaseStore) key(showtimeID uint64, owner string) string {
	return fmt.Sprintf("%s:lease:%d:%s", s.prefix, showtimeID, owner)
}

// Save stores l for the session.  Provisional or already expired leases
// are never persisted; saving one removes any stored entry instead.
func (s *LeaseStore) Save(ctx context.Context, sc model.SessionContext, l model.Lease) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	ttl := l.ExpiresAt.Sub(s.now())
	if l.Provisional || ttl <= 0 || len(l.SeatIDs) == 0 {
		return s.Delete(ctx, sc)
	}
	buf, err := json.Marshal(StoredLease{
		LeaseID:    l.ID,
		ShowtimeID: sc.ShowtimeID,
		Owner:      sc.Owner,
		SeatIDs:    l.SeatIDs.Sorted(),
		ExpiresAt:  l.ExpiresAt.UTC(),
	})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(sc.ShowtimeID, sc.Owner), buf, ttl).Err()
}

// Load returns the stored lease for the session, or ok false when none
// exists.
func (s *LeaseStore) Load(ctx context.Context, sc model.SessionContext) (StoredLease, bool, error) {
	if s == nil || s.rdb == nil {
		return StoredLease{}, false, nil
	}
	raw, err := s.rdb.Get(ctx, s.key(sc.ShowtimeID, sc.Owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StoredLease{}, false, nil
	}
	if err != nil {
		return StoredLease{}, false, err
	}
	var sl StoredLease
	if err := json.Unmarshal(raw, &sl); err != nil {
		return StoredLease{}, false, fmt.Errorf("decode stored lease: %w", err)
	}
	return sl, true, nil
}

// Delete removes the stored lease for the session.
func (s *LeaseStore) Delete(ctx context.Context, sc model.SessionContext) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, s.key(sc.ShowtimeID, sc.Owner)).Err()
}
