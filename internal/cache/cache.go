package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ProfileKey returns the cache key under which a profile summary is stored.
func ProfileKey(profileID string) string {
	return "profile:" + profileID
}

// Cache is a best-effort read accelerator. It is never a correctness
// dependency: callers log failures and fall back to the document store.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Invalidate removes every key matching the glob pattern.
	Invalidate(ctx context.Context, pattern string) error
	// SetIfAbsent stores the value only when the key does not exist yet and
	// reports whether this call created it. Used for webhook deduplication.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// RedisCache implements Cache on a Redis backend.
type RedisCache struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, logger zerolog.Logger) (*RedisCache, error) {
	if addr == "" {
		return nil, errors.New("cache: redis address is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &RedisCache{
		rdb:    rdb,
		logger: logger.With().Str("component", "redis-cache").Logger(),
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	created, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return created, nil
}

// Invalidate scans for matching keys and deletes them in batches.
func (c *RedisCache) Invalidate(ctx context.Context, pattern string) error {
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: invalidate %s: %w", pattern, err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scan %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache: invalidate %s: %w", pattern, err)
		}
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Noop is a Cache that stores nothing. It stands in when no Redis address is
// configured; every lookup is a miss and every dedup check passes.
type Noop struct{}

func (Noop) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (Noop) Set(context.Context, string, string, time.Duration) error { return nil }

func (Noop) Invalidate(context.Context, string) error { return nil }

func (Noop) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}
