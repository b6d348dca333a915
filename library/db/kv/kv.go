// Package kv implements the durable search-response cache table.
package kv

import (
	"context"
	"database/sql"
	"regexp"
	"time"

	errors "github.com/Laisky/errors/v2"
)

var (
	_ Interface = new(Cache)

	regexpKey       = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)
	regexpTableName = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)

	// ErrKeyNotFound returned by Get when the key was never written.
	ErrKeyNotFound = errors.New("cache key not found")
	// ErrKeyExpired returned by Get when the key exists but is past its expiry.
	ErrKeyExpired = errors.New("cache key expired")
)

// Item is one cached payload with its expiry bookkeeping.
type Item struct {
	Key       string    `json:"key"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Interface is the cache contract consumed by the search service.
type Interface interface {
	SetWithTTL(ctx context.Context, key, payload string, ttl time.Duration) error
	SetWithExpireAt(ctx context.Context, key, payload string, expireAt time.Time) error
	Get(ctx context.Context, key string) (*Item, error)
	Del(ctx context.Context, key string) error
	// DelExpired removes every row past its expiry and returns how many were dropped.
	DelExpired(ctx context.Context) (int64, error)
}

// Absent reports whether a Get error means "no usable entry" rather than a
// storage failure. Expired and unknown keys are both cache misses.
func Absent(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrKeyExpired)
}

// Cache is a key-value cache stored in a SQL table.
type Cache struct {
	opt *option
	db  *sql.DB
}

type option struct {
	tableName string
}

// Option is a function that configures the cache
type Option func(*option) error

func applyOpts(opts ...Option) (*option, error) {
	// fill default
	o := &option{
		tableName: "research_cache",
	}

	// apply opts
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return o, nil
}

// WithTableName is an option to override the backing table name
func WithTableName(tableName string) Option {
	return func(o *option) error {
		if !regexpTableName.MatchString(tableName) {
			return errors.Errorf("invalid table name: %s", tableName)
		}
		o.tableName = tableName
		return nil
	}
}

// NewCache creates a cache over db, creating the backing table if needed
func NewCache(db *sql.DB, opts ...Option) (*Cache, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	opt, err := applyOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "apply opts")
	}

	c := &Cache{
		opt: opt,
		db:  db,
	}

	if err := c.setup(); err != nil {
		return nil, errors.Wrap(err, "setup cache")
	}

	return c, nil
}

func (c *Cache) setup() error {
	stmt := `
CREATE TABLE IF NOT EXISTS ` + c.opt.tableName + ` (
  cache_key TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  expires_at TIMESTAMP NOT NULL,
  created_at TIMESTAMP NOT NULL
)`

	if _, err := c.db.Exec(stmt); err != nil {
		return errors.Wrap(err, "create cache table")
	}

	return nil
}

func (c *Cache) validKey(key string) error {
	if !regexpKey.MatchString(key) {
		return errors.Errorf("invalid cache key: %s", key)
	}

	return nil
}

// SetWithTTL stores the payload with a time-to-live duration.
// Any existing entry for the key is overwritten, last write wins.
func (c *Cache) SetWithTTL(ctx context.Context, key, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("ttl must be greater than 0: %s", ttl)
	}
	if ttl > time.Hour*24*30 {
		return errors.Errorf("ttl is too far in the future: %s", ttl)
	}

	return c.SetWithExpireAt(ctx, key, payload, time.Now().Add(ttl))
}

// SetWithExpireAt stores the payload with a specific expiration time.
func (c *Cache) SetWithExpireAt(ctx context.Context, key, payload string, expireAt time.Time) error {
	if err := c.validKey(key); err != nil {
		return errors.WithStack(err)
	}
	if expireAt.Before(time.Now()) {
		return errors.Errorf("expire time is in the past: %s", expireAt)
	}

	now := time.Now().UTC()
	stmt := `
INSERT INTO ` + c.opt.tableName + ` (cache_key, payload, expires_at, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT(cache_key)
DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`

	if _, err := c.db.ExecContext(ctx, stmt, key, payload, expireAt.UTC(), now); err != nil {
		return errors.Wrap(err, "upsert cache item")
	}

	return nil
}

// Get retrieves the key's cached item. If the key is expired,
// it deletes the record and returns ErrKeyExpired.
func (c *Cache) Get(ctx context.Context, key string) (*Item, error) {
	var item Item
	stmt := `SELECT cache_key, payload, expires_at, created_at FROM ` + c.opt.tableName + ` WHERE cache_key = $1 LIMIT 1`
	err := c.db.QueryRowContext(ctx, stmt, key).Scan(&item.Key, &item.Payload, &item.ExpiresAt, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrKeyNotFound, "key %s", key)
		}
		return nil, errors.Wrap(err, "get cache item")
	}

	if !item.ExpiresAt.IsZero() && time.Now().After(item.ExpiresAt) {
		_ = c.Del(ctx, key)
		return nil, errors.Wrapf(ErrKeyExpired, "key %s", key)
	}

	return &item, nil
}

// Del removes the key from the cache.
func (c *Cache) Del(ctx context.Context, key string) error {
	stmt := `DELETE FROM ` + c.opt.tableName + ` WHERE cache_key = $1`
	if _, err := c.db.ExecContext(ctx, stmt, key); err != nil {
		return errors.Wrap(err, "delete cache item")
	}
	return nil
}

// DelExpired removes every expired row.
func (c *Cache) DelExpired(ctx context.Context) (int64, error) {
	stmt := `DELETE FROM ` + c.opt.tableName + ` WHERE expires_at <= $1`
	res, err := c.db.ExecContext(ctx, stmt, time.Now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "delete expired cache items")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "count deleted cache items")
	}

	return n, nil
}
