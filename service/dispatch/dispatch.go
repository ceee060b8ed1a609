// Package dispatch fans change events out to registered handlers through a
// bounded queue and a fixed worker pool. Enqueue blocks when the queue is
// full; each handler invocation runs under its own deadline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/tracker"
)

// ErrTimeout reports that a handler exceeded the per-event deadline. The
// dispatcher does not retry; handlers that need retries own them.
var ErrTimeout = errors.New("handler timed out")

// ErrClosed reports an enqueue after shutdown began.
var ErrClosed = errors.New("dispatcher closed")

// Handler processes one change event. Handle must respect ctx; when the
// deadline passes the dispatcher records a timeout and moves on, so a handler
// that ignores ctx leaks a goroutine until it returns.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev tracker.ChangeEvent) error
}

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of concurrent handler invocations. Defaults to 4.
	Workers int

	// QueueSize bounds the pending-event queue. Defaults to 256.
	QueueSize int

	// Timeout is the per-handler-invocation deadline. Defaults to 10s.
	Timeout time.Duration
}

// Dispatcher delivers each accepted event to every registered handler.
type Dispatcher struct {
	workers  int
	timeout  time.Duration
	handlers []Handler

	logger  *slog.Logger
	metrics *metrics.Metrics

	queue chan tracker.ChangeEvent

	// mu serializes producers against close: Emit holds the read side for
	// the duration of its send so Run cannot close the queue mid-send.
	mu     sync.RWMutex
	closed bool
}

// New creates a Dispatcher. Handlers must all be registered before Run is
// called. If m is nil, no metrics are recorded.
func New(opts Options, handlers []Handler, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		workers:  workers,
		timeout:  timeout,
		handlers: handlers,
		logger:   logger,
		metrics:  m,
		queue:    make(chan tracker.ChangeEvent, size),
	}
}

// Emit implements tracker.Sink by blocking until the event is queued. The
// block is the backpressure path: a full queue stalls the tracker, which
// stalls the socket readers.
func (d *Dispatcher) Emit(ctx context.Context, ev tracker.ChangeEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- ev:
		if d.metrics != nil {
			d.metrics.RecordQueueDepth(len(d.queue))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and the queue
// drains. Events queued before cancellation are still delivered.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}

	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	close(d.queue)

	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for ev := range d.queue {
		if d.metrics != nil {
			d.metrics.RecordQueueDepth(len(d.queue))
		}
		for _, h := range d.handlers {
			d.invoke(ctx, worker, h, ev)
		}
	}
}

// invoke runs one handler under the per-event deadline. Handler errors are
// logged and recorded, never retried here.
func (d *Dispatcher) invoke(ctx context.Context, worker int, h Handler, ev tracker.ChangeEvent) {
	// Shutdown still lets in-flight events finish under their own deadline.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	start := time.Now()
	err := h.Handle(hctx, ev)
	elapsed := time.Since(start)

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s: %s", ErrTimeout, d.timeout, h.Name())
		status = "timeout"
		if d.metrics != nil {
			d.metrics.RecordDispatchTimeout(h.Name())
		}
		d.logger.Error("handler timed out",
			"handler", h.Name(),
			"worker", worker,
			"address", ev.Address.String(),
			"slot", ev.Current.Slot,
			"timeout", d.timeout,
		)
	default:
		status = "error"
		d.logger.Error("handler failed",
			"handler", h.Name(),
			"worker", worker,
			"address", ev.Address.String(),
			"slot", ev.Current.Slot,
			"error", err,
		)
	}

	if d.metrics != nil {
		d.metrics.RecordHandlerDuration(h.Name(), status, elapsed.Seconds())
	}
}
