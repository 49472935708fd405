package config

// Redis carries the seat-event pub/sub channel and the persisted lease.
// When the server does not answer at startup NewRedisClient returns nil
// and the agent runs without lease persistence or Redis push.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-sync/internal/pkg/logger"
)

const redisPingTimeout = 2 * time.Second

// RedisOptions builds client options from the environment:
//
//	REDIS_HOST, REDIS_PORT  – server location, wins over REDIS_ADDR when both are set
//	REDIS_ADDR              – host:port shorthand (default localhost:6379)
//	REDIS_PASSWORD, REDIS_DB
//	REDIS_TLS               – enable TLS
//	REDIS_TLS_INSECURE      – skip certificate verification (managed instances with private CAs)
//	REDIS_DIAL_TIMEOUT      – dial timeout (default 5s)
//	REDIS_POOL_SIZE         – connection pool size (0 keeps the client default)
func RedisOptions() *redis.Options {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
		addr = host + ":" + port
	}
	opts := &redis.Options{
		Addr:        addr,
		Password:    envStr("REDIS_PASSWORD", ""),
		DB:          envInt("REDIS_DB", 0),
		DialTimeout: envDur("REDIS_DIAL_TIMEOUT", 5*time.Second),
		PoolSize:    envInt("REDIS_POOL_SIZE", 0),
	}
	if envBool("REDIS_TLS", false) {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: envBool("REDIS_TLS_INSECURE", false),
		}
	}
	return opts
}

// NewRedisClient connects with RedisOptions and pings the server.  It
// returns nil when the server is unreachable.
func NewRedisClient() *redis.Client {
	opts := RedisOptions()
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable", zap.String("addr", opts.Addr), zap.Error(err))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client
}
