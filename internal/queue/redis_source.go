package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
)

// DefaultChannelPrefix is the prefix of the authority's pub/sub
// channels.
const DefaultChannelPrefix = "cineverse"

// RedisSource subscribes to a showtime's seat events over Redis pub/sub
// on the channel "<prefix>:seat_events:<showtime>".
type RedisSource struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisSource returns a source reading from rdb.
func NewRedisSource(rdb *redis.Client, prefix string, log *zap.Logger) *RedisSource {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if log == nil {
		log = logger.Get()
	}
	return &RedisSource{rdb: rdb, prefix: prefix, log: log.Named("redis-source")}
}

// Channel returns the pub/sub channel of showtimeID.
func (s *RedisSource) Channel(showtimeID uint64) string {
	return fmt.Sprintf("%s:seat_events:%d", s.prefix, showtimeID)
}

// Subscribe opens a pub/sub subscription and returns the raw payloads.
// The subscription is confirmed before Subscribe returns, so a dead
// server is reported as an error rather than as an empty stream.
func (s *RedisSource) Subscribe(ctx context.Context, showtimeID uint64) (<-chan []byte, error) {
	if s.rdb == nil {
		return nil, fmt.Errorf("redis source: no client configured")
	}
	channel := s.Channel(showtimeID)
	ps := s.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s.log.Info("subscribed", zap.String("channel", channel))

	msgs := ps.Channel()
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() { _ = ps.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					s.log.Warn("subscription closed", zap.String("channel", channel))
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
