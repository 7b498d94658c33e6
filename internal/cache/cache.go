package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss reports that the key is absent.
var ErrMiss = errors.New("cache miss")

// Cache keeps recently computed analytics responses in Redis so dashboard
// polling does not hammer the aggregate queries. Absent configuration the
// zero-value Cache disables itself and every lookup misses.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at addr. An empty addr returns a disabled cache.
func New(addr, password string, db int, ttl time.Duration) *Cache {
	if addr == "" {
		return &Cache{}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

func (c *Cache) Enabled() bool { return c != nil && c.rdb != nil }

func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// GetJSON unmarshals the cached value for key into out. Returns ErrMiss when
// disabled or absent.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) error {
	if !c.Enabled() {
		return ErrMiss
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), out)
}

// SetJSON stores v under key for the cache TTL. Best effort: marshal errors
// surface, a disabled cache is a no-op.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate drops the given keys, used after a manual analysis trigger.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}
