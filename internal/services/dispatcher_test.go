package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	d := NewDispatcher(DispatcherConfig{Name: "test", BufferSize: 16}, func(_ context.Context, v int) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, v)
		return nil
	})

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), i)
	}
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 10)

	d.Emit(context.Background(), 99)
	require.Len(t, seen, 10)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var handled atomic.Int32

	d := NewDispatcher(DispatcherConfig{Name: "test-drop", BufferSize: 1, DropIfFull: true}, func(_ context.Context, _ string) error {
		<-release
		handled.Add(1)
		return nil
	})

	// First event occupies the handler, second fills the buffer, the rest are dropped.
	d.Emit(context.Background(), "a")
	require.Eventually(t, func() bool { return len(d.ch) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), "b")
	d.Emit(context.Background(), "c")
	d.Emit(context.Background(), "d")

	require.EqualValues(t, 2, d.Dropped())

	close(release)
	require.NoError(t, d.Close(context.Background()))
	require.EqualValues(t, 2, handled.Load())
}

func TestDispatcherSwallowsHandlerFailures(t *testing.T) {
	var calls atomic.Int32
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, func(_ context.Context, v int) error {
		calls.Add(1)
		if v == 1 {
			panic("boom")
		}
		return errors.New("sink down")
	})

	d.Emit(context.Background(), 1)
	d.Emit(context.Background(), 2)
	require.NoError(t, d.Close(context.Background()))
	require.EqualValues(t, 2, calls.Load())
}

func TestCloseAllAggregatesErrors(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	slow := NewDispatcher(DispatcherConfig{BufferSize: 1}, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	slow.Emit(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var nilDispatcher *Dispatcher[int]
	err := CloseAll(ctx, slow, nilDispatcher)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
