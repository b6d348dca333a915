// Package redis provides a redis-backed variant of the response cache.
//
// Expiry is delegated to redis TTLs, so DelExpired is a no-op kept only to
// satisfy the cache contract.
package redis

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/redis/go-redis/v9"

	"github.com/contentstudio/research-engine/library/db/kv"
)

const keyPrefix = "research/cache/"

var _ kv.Interface = new(Cache)

// Cache is a wrapper for go-redis satisfying kv.Interface.
type Cache struct {
	db *redis.Client
}

// NewCache creates a new redis cache instance
func NewCache(opt *redis.Options) *Cache {
	return &Cache{
		db: redis.NewClient(opt),
	}
}

// SetWithTTL stores the payload under key for ttl.
func (c *Cache) SetWithTTL(ctx context.Context, key, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("ttl must be greater than 0: %s", ttl)
	}

	if err := c.db.Set(ctx, keyPrefix+key, payload, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}

	return nil
}

// SetWithExpireAt stores the payload until expireAt.
func (c *Cache) SetWithExpireAt(ctx context.Context, key, payload string, expireAt time.Time) error {
	return c.SetWithTTL(ctx, key, payload, time.Until(expireAt))
}

// Get retrieves the payload for key. Expired keys vanish from redis on
// their own, so both miss cases surface as kv.ErrKeyNotFound.
func (c *Cache) Get(ctx context.Context, key string) (*kv.Item, error) {
	payload, err := c.db.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(kv.ErrKeyNotFound, "key %s", key)
		}
		return nil, errors.Wrap(err, "redis get")
	}

	return &kv.Item{
		Key:     key,
		Payload: payload,
	}, nil
}

// Del removes the key.
func (c *Cache) Del(ctx context.Context, key string) error {
	if err := c.db.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// DelExpired is a no-op for redis, which expires keys natively.
func (c *Cache) DelExpired(ctx context.Context) (int64, error) {
	return 0, nil
}
