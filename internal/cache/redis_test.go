package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/internal/cache"
	"github.com/charlesng35/authguard/internal/cache/cachetest"
)

func TestRedisStoreSetGetExists(t *testing.T) {
	store, mr := cachetest.MustRedisStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	value, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), value)
	require.True(t, mr.Exists("test:k"))

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, exists)

	mr.FastForward(time.Minute + time.Second)
	exists, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRedisStoreIncrementKeepsWindow(t *testing.T) {
	store, mr := cachetest.MustRedisStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	mr.FastForward(20 * time.Second)

	count, ttl, err = store.IncrementWithTTL(ctx, "counter", 2, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
	require.Equal(t, 40*time.Second, ttl)

	mr.FastForward(41 * time.Second)

	count, _, err = store.IncrementWithTTL(ctx, "counter", 1, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRedisStoreDeleteByPattern(t *testing.T) {
	store, _ := cachetest.MustRedisStore(t)
	ctx := context.Background()

	for _, key := range []string{"auth:lockout:a@x.io:count", "auth:lockout:a@x.io:meta", "auth:lockout:b@x.io:count"} {
		require.NoError(t, store.Set(ctx, key, []byte("1"), time.Minute))
	}

	removed, err := store.DeleteByPattern(ctx, "auth:lockout:a@x.io:*")
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	exists, err := store.Exists(ctx, "auth:lockout:b@x.io:count")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestRedisStoreNil(t *testing.T) {
	var store *cache.RedisStore
	_, _, err := store.Get(context.Background(), "k")
	require.ErrorIs(t, err, cache.ErrNotInitialised)
}
