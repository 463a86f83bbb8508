// Package cache implements a small key/value interface over Redis
// used for dashboard-stats memoization, rate-limit window counters,
// single-flight/enrichment locks, and a checkpoint mirror for
// cross-instance job resumption. Every call site tolerates a down
// cache — callers fail open to a direct Store query, logged at Warn —
// so Redis is a performance and coordination aid, never a source of
// truth.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned (never panics) when the cache cannot be
// reached; callers are expected to fail open rather than propagate it.
var ErrUnavailable = errors.New("cache: unavailable")

// Cache is the interface every call site depends on, never *redis.Client
// directly, so the fail-open behavior lives in one place.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// RedisCache is the production Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// New builds a RedisCache from a connection URL (redis://host:port/db).
func New(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", ErrUnavailable
	}
	return v, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return ErrUnavailable
	}
	return nil
}

// SetNX acquires a lock/flag key, reporting whether this call won it.
func (c *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, ErrUnavailable
	}
	return ok, nil
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, ErrUnavailable
	}
	return v, nil
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }
