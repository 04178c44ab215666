package lockout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/internal/cache"
	"github.com/charlesng35/authguard/internal/cache/cachetest"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newGuard(t *testing.T, cfg Config) (*Guard, cache.Store, *testClock) {
	t.Helper()
	store, _ := cachetest.MustRedisStore(t)
	clock := &testClock{now: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)}
	cfg.Clock = clock.Now
	guard, err := NewGuard(store, cfg)
	require.NoError(t, err)
	return guard, store, clock
}

func TestProgressiveSchedule(t *testing.T) {
	guard, _, _ := newGuard(t, Config{
		Schedule:    []time.Duration{0, 0, 60 * time.Second, 120 * time.Second, 300 * time.Second},
		MaxAttempts: 100,
	})
	ctx := context.Background()

	want := []int64{0, 0, 60, 120, 300, 300, 300}
	for i, seconds := range want {
		t.Run(fmt.Sprintf("attempt_%d", i+1), func(t *testing.T) {
			status, err := guard.RecordFailedAttempt(ctx, " User@Example.com ")
			require.NoError(t, err)
			require.EqualValues(t, i+1, status.Attempts)
			require.Equal(t, seconds, status.LockoutSeconds)
			require.Equal(t, seconds > 0, status.IsLocked)
		})
	}
}

func TestDelayForBeyondSchedule(t *testing.T) {
	guard, _, _ := newGuard(t, Config{Schedule: []time.Duration{0, 0, time.Minute, 2 * time.Minute}})

	require.Zero(t, guard.DelayFor(0))
	require.Zero(t, guard.DelayFor(1))
	require.Zero(t, guard.DelayFor(2))
	require.Equal(t, time.Minute, guard.DelayFor(3))
	require.Equal(t, 2*time.Minute, guard.DelayFor(4))
	require.Equal(t, 2*time.Minute, guard.DelayFor(40))
}

func TestMaxAttemptsTriggersPermanentLockout(t *testing.T) {
	guard, _, _ := newGuard(t, Config{
		Schedule:         []time.Duration{0},
		MaxAttempts:      3,
		PermanentLockout: 24 * time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		status, err := guard.RecordFailedAttempt(ctx, "a@x.io")
		require.NoError(t, err)
		require.False(t, status.IsLocked)
	}

	status, err := guard.RecordFailedAttempt(ctx, "a@x.io")
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.EqualValues(t, 24*60*60, status.LockoutSeconds)

	blocked, err := guard.IsBlocked(ctx, "A@X.IO")
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestIsBlockedFallsBackToMetadata(t *testing.T) {
	guard, store, clock := newGuard(t, Config{Schedule: []time.Duration{time.Minute}})
	ctx := context.Background()

	_, err := guard.RecordFailedAttempt(ctx, "a@x.io")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, blockKey("a@x.io")))

	blocked, err := guard.IsBlocked(ctx, "a@x.io")
	require.NoError(t, err)
	require.True(t, blocked)

	clock.Advance(61 * time.Second)
	blocked, err = guard.IsBlocked(ctx, "a@x.io")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestStatusReportsCountdown(t *testing.T) {
	guard, _, clock := newGuard(t, Config{Schedule: []time.Duration{0, 2 * time.Minute}})
	ctx := context.Background()

	status, err := guard.Status(ctx, "a@x.io")
	require.NoError(t, err)
	require.Zero(t, status.Attempts)
	require.False(t, status.IsLocked)

	_, err = guard.RecordFailedAttempt(ctx, "a@x.io")
	require.NoError(t, err)
	_, err = guard.RecordFailedAttempt(ctx, "a@x.io")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	status, err = guard.Status(ctx, "a@x.io")
	require.NoError(t, err)
	require.EqualValues(t, 2, status.Attempts)
	require.True(t, status.IsLocked)
	require.EqualValues(t, 90, status.LockoutSeconds)
}

func TestResetClearsEverything(t *testing.T) {
	guard, store, _ := newGuard(t, Config{Schedule: []time.Duration{time.Minute}})
	ctx := context.Background()

	_, err := guard.RecordFailedAttempt(ctx, "a@x.io")
	require.NoError(t, err)
	_, err = guard.RecordFailedAttempt(ctx, "b@x.io")
	require.NoError(t, err)

	require.NoError(t, guard.Reset(ctx, "A@x.io"))

	blocked, err := guard.IsBlocked(ctx, "a@x.io")
	require.NoError(t, err)
	require.False(t, blocked)

	exists, err := store.Exists(ctx, attemptsKey("a@x.io"))
	require.NoError(t, err)
	require.False(t, exists)

	blocked, err = guard.IsBlocked(ctx, "b@x.io")
	require.NoError(t, err)
	require.True(t, blocked)

	status, err := guard.RecordFailedAttempt(ctx, "a@x.io")
	require.NoError(t, err)
	require.EqualValues(t, 1, status.Attempts)
}

type failingPatternStore struct {
	cache.Store
}

func (f failingPatternStore) DeleteByPattern(context.Context, string) (int64, error) {
	return 0, errors.New("boom")
}

func TestResetFailureLeavesBlockInPlace(t *testing.T) {
	store, _ := cachetest.MustRedisStore(t)
	clock := &testClock{now: time.Now()}
	guard, err := NewGuard(failingPatternStore{Store: store}, Config{Schedule: []time.Duration{time.Minute}, Clock: clock.Now})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = guard.RecordFailedAttempt(ctx, "a@x.io")
	require.NoError(t, err)

	require.Error(t, guard.Reset(ctx, "a@x.io"))

	blocked, err := guard.IsBlocked(ctx, "a@x.io")
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestEmptyIdentifier(t *testing.T) {
	guard, _, _ := newGuard(t, Config{})
	_, err := guard.RecordFailedAttempt(context.Background(), "  ")
	require.ErrorIs(t, err, ErrIdentifierRequired)
}
