package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/charlesng35/authguard/internal/cache"
)

const (
	rateKeyPrefix     = "ratelimit:"
	memorySweepEvery  = time.Minute
	defaultRateWindow = time.Minute
)

// RateStore counts requests for a key within a fixed window. ttl is the time left until the
// window resets.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// memoryRateStore keeps process-local counters. Expired windows are swept lazily on
// Increment, so the store owns no goroutine.
type memoryRateStore struct {
	mu        sync.Mutex
	data      map[string]memoryCounter
	clock     func() time.Time
	nextSweep time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs an in-memory rate store for single-instance deployments.
func NewMemoryRateStore() RateStore {
	return newMemoryRateStore(time.Now)
}

func newMemoryRateStore(clock func() time.Time) *memoryRateStore {
	return &memoryRateStore{
		data:  make(map[string]memoryCounter),
		clock: clock,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = defaultRateWindow
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !now.Before(s.nextSweep) {
		for k, counter := range s.data {
			if !now.Before(counter.windowEnd) {
				delete(s.data, k)
			}
		}
		s.nextSweep = now.Add(memorySweepEvery)
	}

	counter, ok := s.data[key]
	if !ok || !now.Before(counter.windowEnd) {
		counter = memoryCounter{windowEnd: now.Add(window)}
	}
	counter.count++
	s.data[key] = counter

	return counter.count, counter.windowEnd.Sub(now), nil
}

func (s *memoryRateStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// cacheRateStore shares counters through a cache.Store (Redis or the SQL cache table) so
// limits hold across instances.
type cacheRateStore struct {
	store cache.Store
}

// NewCacheRateStore wraps the shared cache in a RateStore. A nil store yields nil, which the
// middleware replaces with process-local counters.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &cacheRateStore{store: store}
}

func (s *cacheRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = defaultRateWindow
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, 1, window)
	if err != nil {
		return 0, 0, err
	}
	// A counter without expiry would never reset; report the full window instead.
	if ttl <= 0 || ttl > window {
		ttl = window
	}
	return int(count), ttl, nil
}
