package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hexmapr/density-engine/internal/observability"
)

// RedisPayloadCache shares fetched aggregate payloads between processes.
// It is strictly best-effort: every error degrades to a cache miss so the
// loader falls back to the source.
type RedisPayloadCache struct {
	log    *slog.Logger
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*redis.Options)

func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func NewRedisPayloadCache(ctx context.Context, log *slog.Logger, addr string, ttl time.Duration, opts ...RedisOption) (*RedisPayloadCache, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if log == nil {
		log = slog.Default()
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	err := rdb.Ping(ctx).Err()
	observability.ObservePayloadCacheOp("ping", err)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPayloadCache{log: log, rdb: rdb, prefix: "hexdata", ttl: ttl}, nil
}

func (c *RedisPayloadCache) key(resolution int) string {
	return fmt.Sprintf("%s:res:%d", c.prefix, resolution)
}

func (c *RedisPayloadCache) Get(ctx context.Context, resolution int) ([]byte, bool) {
	body, err := c.rdb.Get(ctx, c.key(resolution)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObservePayloadCacheOp("get_miss", nil)
		return nil, false
	}
	observability.ObservePayloadCacheOp("get", err)
	if err != nil {
		c.log.Warn("payload cache get failed", "resolution", resolution, "err", err)
		return nil, false
	}
	return body, true
}

func (c *RedisPayloadCache) Put(ctx context.Context, resolution int, body []byte) {
	err := c.rdb.Set(ctx, c.key(resolution), body, c.ttl).Err()
	observability.ObservePayloadCacheOp("set", err)
	if err != nil {
		c.log.Warn("payload cache put failed", "resolution", resolution, "err", err)
	}
}

func (c *RedisPayloadCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
