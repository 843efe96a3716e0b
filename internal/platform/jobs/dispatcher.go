package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/platform/requestctx"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultTaskTimeout = 30 * time.Second
)

// ErrDispatcherClosed is returned by Close when called twice.
var ErrDispatcherClosed = errors.New("jobs: dispatcher closed")

type task struct {
	id   string
	name string
	ctx  context.Context
	run  func(context.Context) error
}

// Dispatcher runs fire-and-forget work on a bounded worker pool. Dispatch
// never blocks: when the queue is full the task is dropped and logged.
type Dispatcher struct {
	queue   chan task
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option customises the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the fallback logger used when the task context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records dropped tasks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTaskTimeout bounds each task run.
func WithTaskTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize.
func NewDispatcher(workers, queueSize int, opts ...Option) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		queue:   make(chan task, queueSize),
		logger:  zap.NewNop(),
		timeout: defaultTaskTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Dispatch queues run and returns its job id, or "" when the task was dropped.
// The task keeps ctx values (logger, trace) but not its cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, run func(context.Context) error) string {
	if d == nil || run == nil {
		return ""
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t := task{
		id:   uuid.NewString(),
		name: name,
		ctx:  context.WithoutCancel(ctx),
		run:  run,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(t, "closed")
		return ""
	}
	select {
	case d.queue <- t:
		return t.id
	default:
		d.drop(t, "queue_full")
		return ""
	}
}

// Close stops accepting work and waits for queued tasks until ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for t := range d.queue {
		d.runTask(t)
	}
}

func (d *Dispatcher) runTask(t task) {
	ctx, cancel := context.WithTimeout(t.ctx, d.timeout)
	defer cancel()

	logger := d.loggerFor(t.ctx).With(zap.String("jobId", t.id), zap.String("job", t.name))
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", zap.Any("panic", rec))
		}
	}()

	start := time.Now()
	if err := t.run(ctx); err != nil {
		logger.Warn("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Debug("job completed", zap.Duration("duration", time.Since(start)))
}

func (d *Dispatcher) drop(t task, reason string) {
	d.metrics.JobDropped()
	d.loggerFor(t.ctx).Warn("job dropped", zap.String("job", t.name), zap.String("reason", reason))
}

func (d *Dispatcher) loggerFor(ctx context.Context) *zap.Logger {
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	return d.logger
}
