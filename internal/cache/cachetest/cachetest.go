package cachetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/internal/cache"
)

// MustRedisStore starts an in-process Redis server and returns a store bound to it.
// The server is exposed so tests can fast-forward TTLs.
func MustRedisStore(t *testing.T) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisStoreFromClient(client, "test:")

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return store, mr
}
