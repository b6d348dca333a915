package kv

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *sql.DB) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err, "failed to connect to test db")
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	c, err := NewCache(db, WithTableName("test_"+t.Name()))
	require.NoError(t, err, "failed to create cache instance")
	return c, db
}

func TestSetAndGet(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	key, payload := "a1b2c3", `{"total_results":2}`

	err := c.SetWithTTL(ctx, key, payload, time.Hour)
	require.NoError(t, err, "SetWithTTL should not error")

	item, err := c.Get(ctx, key)
	require.NoError(t, err, "Get should not error")
	require.Equal(t, key, item.Key)
	require.Equal(t, payload, item.Payload)
	require.WithinDuration(t, time.Now().Add(time.Hour), item.ExpiresAt, time.Minute)
}

func TestGetUnknownKey(t *testing.T) {
	c, _ := setupTestCache(t)

	_, err := c.Get(context.Background(), "never-written")
	require.Error(t, err)
	require.True(t, Absent(err), "unknown key should be a miss, not a failure")
}

func TestOverwriteIsLastWriteWins(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "k", "first", time.Hour))
	require.NoError(t, c.SetWithTTL(ctx, "k", "second", 2*time.Hour))

	item, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "second", item.Payload)
}

func TestKeyExpiration(t *testing.T) {
	c, db := setupTestCache(t)
	ctx := context.Background()

	// write an already-expired row directly, bypassing the expiry guard in Set
	_, err := db.ExecContext(ctx,
		`INSERT INTO test_`+t.Name()+` (cache_key, payload, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		"stale", "payload", time.Now().Add(-time.Minute).UTC(), time.Now().Add(-time.Hour).UTC())
	require.NoError(t, err)

	_, err = c.Get(ctx, "stale")
	require.Error(t, err, "key should be expired")
	require.True(t, Absent(err))
}

func TestDelExpired(t *testing.T) {
	c, db := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "live", "p", time.Hour))
	_, err := db.ExecContext(ctx,
		`INSERT INTO test_`+t.Name()+` (cache_key, payload, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		"stale", "p", time.Now().Add(-time.Minute).UTC(), time.Now().Add(-time.Hour).UTC())
	require.NoError(t, err)

	n, err := c.DelExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = c.Get(ctx, "live")
	require.NoError(t, err, "live entry must survive the purge")
}

func TestInvalidInputs(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.Error(t, c.SetWithTTL(ctx, "k", "p", 0), "zero ttl refused")
	require.Error(t, c.SetWithTTL(ctx, "bad key!", "p", time.Hour), "invalid key refused")
	require.Error(t, c.SetWithExpireAt(ctx, "k", "p", time.Now().Add(-time.Hour)), "past expiry refused")
}
