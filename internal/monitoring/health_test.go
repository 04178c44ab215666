package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authguard/internal/database/testutil"
)

type fakeCache struct{ err error }

func (f fakeCache) Exists(context.Context, string) (bool, error) { return false, f.err }

func TestHealthManagerAllUp(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	m := NewHealthManager(time.Second)
	m.Register(DatabaseCheck(db))
	m.Register(CacheCheck(fakeCache{}))

	report := m.Evaluate(context.Background())
	require.True(t, report.Success)
	require.Equal(t, StatusUp, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "cache", report.Checks[1].Component)
}

func TestHealthManagerDownWins(t *testing.T) {
	m := NewHealthManager(0)
	m.Register(CacheCheck(fakeCache{err: context.DeadlineExceeded}))
	m.Register(CacheCheck(fakeCache{err: errors.New("connection refused")}))

	report := m.Evaluate(context.Background())
	require.False(t, report.Success)
	require.Equal(t, StatusDown, report.Status)
	require.Equal(t, StatusDegraded, report.Checks[0].Status)
	require.Equal(t, "connection refused", report.Checks[1].Details)
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	m := NewHealthManager(time.Second)
	m.Register(NewCheck("broken", func(context.Context) ProbeResult { panic("boom") }))
	m.Register(NewCheck("missing", nil))
	m.Register(Check{})

	report := m.Evaluate(context.Background())
	require.False(t, report.Success)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "boom", report.Checks[0].Details)
	require.Equal(t, "broken", report.Checks[0].Component)
	require.Equal(t, StatusDown, report.Checks[1].Status)
}
