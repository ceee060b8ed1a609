package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/solwatch/service/tracker"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordHandler captures handled events in arrival order.
type recordHandler struct {
	name string
	mu   sync.Mutex
	evs  []tracker.ChangeEvent
	err  error
}

func (h *recordHandler) Name() string { return h.name }

func (h *recordHandler) Handle(ctx context.Context, ev tracker.ChangeEvent) error {
	h.mu.Lock()
	h.evs = append(h.evs, ev)
	h.mu.Unlock()
	return h.err
}

func (h *recordHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.evs)
}

// slowHandler blocks until its context expires.
type slowHandler struct {
	name    string
	started atomic.Int64
}

func (h *slowHandler) Name() string { return h.name }

func (h *slowHandler) Handle(ctx context.Context, ev tracker.ChangeEvent) error {
	h.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(slot uint64) tracker.ChangeEvent {
	var a solana.PublicKey
	a[0] = byte(slot)
	return tracker.ChangeEvent{
		Address: a,
		Current: &tracker.AccountSnapshot{Address: a, Slot: slot},
	}
}

func TestDispatcher_DeliversToAllHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1 := &recordHandler{name: "one"}
	h2 := &recordHandler{name: "two"}
	d := New(Options{Workers: 2, QueueSize: 8}, []Handler{h1, h2}, testLogger(), nil)

	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, d.Emit(ctx, event(i)))
	}

	require.Eventually(t, func() bool {
		return h1.count() == 5 && h2.count() == 5
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestDispatcher_SingleWorkerPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &recordHandler{name: "ordered"}
	d := New(Options{Workers: 1, QueueSize: 16}, []Handler{h}, testLogger(), nil)

	go d.Run(ctx)

	for i := uint64(1); i <= 8; i++ {
		require.NoError(t, d.Emit(ctx, event(i)))
	}

	require.Eventually(t, func() bool { return h.count() == 8 }, time.Second, time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, ev := range h.evs {
		assert.Equal(t, uint64(i+1), ev.Current.Slot)
	}
}

func TestDispatcher_HandlerTimeoutDoesNotStallOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := &slowHandler{name: "slow"}
	fast := &recordHandler{name: "fast"}
	d := New(Options{Workers: 1, QueueSize: 8, Timeout: 20 * time.Millisecond},
		[]Handler{slow, fast}, testLogger(), nil)

	go d.Run(ctx)

	require.NoError(t, d.Emit(ctx, event(1)))
	require.NoError(t, d.Emit(ctx, event(2)))

	// The slow handler times out per event; the fast handler still sees both.
	require.Eventually(t, func() bool { return fast.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), slow.started.Load())
}

func TestDispatcher_HandlerErrorIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := &recordHandler{name: "failing", err: errors.New("boom")}
	d := New(Options{Workers: 1, QueueSize: 8}, []Handler{failing}, testLogger(), nil)

	go d.Run(ctx)

	require.NoError(t, d.Emit(ctx, event(1)))

	require.Eventually(t, func() bool { return failing.count() == 1 }, time.Second, time.Millisecond)

	// Give the worker a beat; a retry would show up as a second invocation.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, failing.count())
}

func TestDispatcher_EmitBlocksWhenQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No Run: nothing drains the queue.
	h := &recordHandler{name: "idle"}
	d := New(Options{Workers: 1, QueueSize: 2}, []Handler{h}, testLogger(), nil)

	require.NoError(t, d.Emit(ctx, event(1)))
	require.NoError(t, d.Emit(ctx, event(2)))

	ectx, ecancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer ecancel()
	err := d.Emit(ectx, event(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_EmitAfterShutdownFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := &recordHandler{name: "h"}
	d := New(Options{Workers: 1, QueueSize: 2}, []Handler{h}, testLogger(), nil)

	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	cancel()
	<-done

	err := d.Emit(context.Background(), event(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_DrainsQueuedEventsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := &recordHandler{name: "drain"}
	d := New(Options{Workers: 1, QueueSize: 16}, []Handler{h}, testLogger(), nil)

	for i := uint64(1); i <= 6; i++ {
		require.NoError(t, d.Emit(ctx, event(i)))
	}

	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	cancel()
	<-done

	assert.Equal(t, 6, h.count())
}
