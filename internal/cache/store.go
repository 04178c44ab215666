package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialised is returned when a nil store is used.
var ErrNotInitialised = errors.New("cache: store not initialised")

// Store represents a shared TTL-bounded cache used across the application.
// Implementations must treat a missing or expired key identically.
type Store interface {
	// Get returns the value stored under key and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A non-positive ttl stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// IncrementWithTTL adds by to the counter stored at key and returns the new count
	// together with the remaining time-to-live. The ttl is applied only when the
	// counter is created, so repeated increments share one fixed window.
	IncrementWithTTL(ctx context.Context, key string, by int64, ttl time.Duration) (int64, time.Duration, error)
	// Delete removes keys from the store.
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes every key matching pattern. Only a trailing "*"
	// wildcard is supported; a pattern without it matches a single key.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}
