// Package cache wraps Redis for the Cache Coordinator: JSON-marshaled
// embedding and query-result caching plus atomic counters for per-user
// rate-limit windows. Methods return Redis failures to the caller as
// errors; the coordinator in engine/cache decides how to degrade on them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist. It is distinct
// from a connection failure so callers can log the two differently.
var ErrMiss = errors.New("cache: miss")

// client is the subset of the go-redis API this package calls.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// Cache is a thin wrapper around Redis that returns its errors to the caller.
type Cache struct {
	client client
}

// New dials Redis at addr.
func New(addr, password string, db int) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})}
}

// NewWithClient builds a Cache around a pre-constructed client, used by
// tests.
func NewWithClient(c client) *Cache {
	return &Cache{client: c}
}

// Get unmarshals the value stored under key into dest. Returns ErrMiss on a
// cache miss, and any other error unwrapped so callers can decide whether a
// connection failure should be logged and ignored.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// IncrWithExpire increments key by delta, setting an expiry the first time
// the key is created. Used for the per-user, per-minute rate-limit counters.
func (c *Cache) IncrWithExpire(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	count, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}
	if count == delta {
		// First increment on this key: arm the expiry window.
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
