package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/internal/cache"
	"github.com/charlesng35/authguard/internal/database/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newDatabaseStore(t *testing.T) (*cache.DatabaseStore, *testClock) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return cache.NewDatabaseStore(db, cache.WithStoreClock(clock.Now)), clock
}

func TestDatabaseStoreSetGetExpiry(t *testing.T) {
	store, clock := newDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, store.Set(ctx, "forever", []byte("x"), 0))

	value, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, store.Set(ctx, "k", []byte("v2"), time.Minute))
	value, _, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)

	clock.Advance(2 * time.Minute)

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = store.Exists(ctx, "forever")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDatabaseStoreIncrementWindow(t *testing.T) {
	store, clock := newDatabaseStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "c", 1, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	clock.Advance(15 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "c", 1, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 45*time.Second, ttl)

	clock.Advance(time.Minute)
	count, ttl, err = store.IncrementWithTTL(ctx, "c", 1, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)
}

func TestDatabaseStoreDeleteByPatternIsLiteral(t *testing.T) {
	store, _ := newDatabaseStore(t)
	ctx := context.Background()

	for _, key := range []string{"lock:a_b:count", "lock:a_b:meta", "lock:aXb:count", "other"} {
		require.NoError(t, store.Set(ctx, key, []byte("1"), time.Minute))
	}

	removed, err := store.DeleteByPattern(ctx, "lock:a_b:*")
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	exists, err := store.Exists(ctx, "lock:aXb:count")
	require.NoError(t, err)
	require.True(t, exists)

	removed, err = store.DeleteByPattern(ctx, "other")
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	store, clock := newDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "long", []byte("1"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("1"), 0))

	clock.Advance(time.Minute)

	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
