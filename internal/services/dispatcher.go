package services

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/metrics"
)

// DispatcherConfig controls buffering for an asynchronous dispatcher.
type DispatcherConfig struct {
	Name       string
	BufferSize int
	// DropIfFull discards events instead of waiting when the buffer is full.
	DropIfFull bool
}

// Dispatcher forwards events to a handler on a background goroutine. Handler failures are
// logged and counted; they are never reported back to the emitter.
type Dispatcher[T any] struct {
	cfg       DispatcherConfig
	handle    func(context.Context, T) error
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	log       *zap.Logger
}

// NewDispatcher starts a dispatcher delivering events to handle.
func NewDispatcher[T any](cfg DispatcherConfig, handle func(context.Context, T) error) *Dispatcher[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	d := &Dispatcher[T]{
		cfg:    cfg,
		handle: handle,
		ch:     make(chan T, cfg.BufferSize),
		done:   make(chan struct{}),
		log:    logger.WithModule("dispatch").With(zap.String("dispatcher", cfg.Name)),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) deliver(event T) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch handler panicked", zap.Any("panic", r))
		}
	}()
	if d.handle == nil {
		return
	}
	if err := d.handle(context.Background(), event); err != nil {
		d.log.Warn("dispatch handler failed", zap.Error(err))
	}
}

// Emit queues an event. It never blocks when DropIfFull is set.
func (d *Dispatcher[T]) Emit(ctx context.Context, event T) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			metrics.DispatchDropped.WithLabelValues(d.cfg.Name).Inc()
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher[T]) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
	})

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Closer is implemented by dispatchers and dispatching services.
type Closer interface {
	Close(ctx context.Context) error
}

// CloseAll closes every closer and aggregates their errors.
func CloseAll(ctx context.Context, closers ...Closer) error {
	var err error
	for _, c := range closers {
		if c == nil {
			continue
		}
		err = multierr.Append(err, c.Close(ctx))
	}
	return err
}
