// Package transport maintains one streaming connection to a Solana node and
// multiplexes logical subscriptions over it. It reconnects with exponential
// backoff and re-registers every active handle, so delivery is at-least-once;
// consumers dedupe by slot.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/solwatch/service/backoff"
	"github.com/brojonat/solwatch/service/metrics"
)

// errHeartbeat tears a connection down after repeated missed heartbeats.
var errHeartbeat = errors.New("repeated heartbeat failure")

// Options configures a Transport.
type Options struct {
	Endpoint string

	// Dial defaults to DialSolana when nil.
	Dial Dialer

	// Heartbeat is the maximum quiet period before the transport degrades
	// and resubscribes in place; a second quiet period disconnects.
	Heartbeat time.Duration

	// Reconnect backoff policy.
	Backoff backoff.Policy

	// MaxReconnects caps consecutive failed reconnect cycles; 0 means
	// unbounded.
	MaxReconnects int

	// FrameBuffer is the capacity of the outbound frame channel. When it
	// fills, socket readers block (cooperative backpressure).
	FrameBuffer int
}

// Transport owns the streaming connection and all subscription handles.
type Transport struct {
	endpoint      string
	dial          Dialer
	heartbeat     time.Duration
	policy        backoff.Policy
	maxReconnects int

	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   State
	nextID  uint64
	handles map[uint64]*Handle
	sess    *session

	frames   chan Frame
	lastRecv atomic.Int64 // unix nanos of last received frame
}

// New creates a Transport. If metrics is nil, no metrics are recorded.
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) *Transport {
	dial := opts.Dial
	if dial == nil {
		dial = DialSolana
	}
	hb := opts.Heartbeat
	if hb <= 0 {
		hb = 30 * time.Second
	}
	buf := opts.FrameBuffer
	if buf <= 0 {
		buf = 1024
	}

	return &Transport{
		endpoint:      opts.Endpoint,
		dial:          dial,
		heartbeat:     hb,
		policy:        opts.Backoff,
		maxReconnects: opts.MaxReconnects,
		logger:        logger,
		metrics:       m,
		handles:       make(map[uint64]*Handle),
		frames:        make(chan Frame, buf),
	}
}

// Frames returns the lazy, infinite stream of raw update frames. It is not
// restartable; it ends only when Run returns.
func (t *Transport) Frames() <-chan Frame { return t.frames }

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers a logical watch and returns its handle. When a
// connection is live the subscription is issued immediately; otherwise it is
// registered on the next (re)connect.
func (t *Transport) Subscribe(ctx context.Context, f Filter) (*Handle, error) {
	t.mu.Lock()
	t.nextID++
	h := &Handle{id: t.nextID, filter: f}
	t.handles[h.id] = h
	sess := t.sess
	t.mu.Unlock()

	t.logger.Info("subscription registered",
		"handle_id", h.id,
		"filter_kind", f.Kind.String(),
		"key", f.Key.String(),
	)

	if sess != nil {
		if err := sess.add(ctx, h); err != nil {
			// The handle stays registered; the broken connection is torn
			// down and the handle re-registers on reconnect.
			sess.fail(fmt.Errorf("subscribe handle %d: %w", h.id, err))
		}
	}

	return h, nil
}

// Unsubscribe removes a handle. New emissions for it stop immediately;
// in-flight downstream work is unaffected.
func (t *Transport) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}

	t.mu.Lock()
	delete(t.handles, h.id)
	sess := t.sess
	t.mu.Unlock()

	if sess != nil {
		sess.remove(h.id)
	}

	t.logger.Info("subscription removed", "handle_id", h.id)
}

// Run drives the connect/subscribe/read loop until ctx is cancelled or the
// reconnect budget is exhausted.
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.frames)

	retries := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if retries > 0 {
			if t.maxReconnects > 0 && retries > t.maxReconnects {
				return fmt.Errorf("reconnect budget exhausted after %d attempts", retries-1)
			}
			delay := t.policy.Delay(retries - 1)
			t.logger.Info("reconnecting after backoff", "attempt", retries, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		t.setState(StateConnecting)
		conn, err := t.dial(ctx, t.endpoint)
		if err != nil {
			t.logger.Warn("dial failed", "endpoint", t.endpoint, "error", err)
			t.setState(StateDisconnected)
			retries++
			continue
		}
		if t.metrics != nil {
			t.metrics.RecordConnect(t.endpoint)
		}

		// The session is published before handle registration so that a
		// Subscribe arriving mid-registration issues its own add on the
		// live connection; add dedupes per handle.
		sess := newSession(ctx, t, conn)
		t.mu.Lock()
		t.sess = sess
		t.mu.Unlock()

		if err := sess.start(ctx); err != nil {
			t.logger.Warn("initial subscribe failed", "error", err)
			t.mu.Lock()
			t.sess = nil
			t.mu.Unlock()
			sess.teardown()
			conn.Close()
			t.setState(StateDisconnected)
			retries++
			continue
		}

		t.setState(StateSubscribed)
		t.lastRecv.Store(time.Now().UnixNano())
		retries = 0
		t.logger.Info("connected and subscribed",
			"endpoint", t.endpoint,
			"handles", len(t.snapshotHandles()),
		)

		err = t.watch(ctx, sess)

		t.mu.Lock()
		t.sess = nil
		t.mu.Unlock()
		sess.teardown()
		conn.Close()
		t.setState(StateDisconnected)
		if t.metrics != nil {
			t.metrics.RecordDisconnect(t.endpoint, disconnectReason(err))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("connection lost", "error", err)
		retries = 1
	}
}

// watch runs the heartbeat watchdog for one connection session. It returns
// when the session fails or ctx is cancelled.
func (t *Transport) watch(ctx context.Context, sess *session) error {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sess.errCh:
			return err

		case <-ticker.C:
			quiet := time.Since(time.Unix(0, t.lastRecv.Load()))
			if quiet < t.heartbeat {
				if missed > 0 {
					missed = 0
					t.setState(StateSubscribed)
				}
				continue
			}

			missed++
			if missed == 1 {
				// Degraded: resubscribe on the live socket without
				// closing it.
				t.setState(StateDegraded)
				if t.metrics != nil {
					t.metrics.RecordResync(t.endpoint)
				}
				t.logger.Warn("missed heartbeat, resyncing subscriptions in place",
					"quiet", quiet,
				)
				if err := sess.resync(ctx); err != nil {
					return fmt.Errorf("resync: %w", err)
				}
				continue
			}
			return errHeartbeat
		}
	}
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	prev := t.state
	t.state = s
	t.mu.Unlock()

	if prev != s {
		t.logger.Debug("connection state changed", "from", prev.String(), "to", s.String())
	}
	if t.metrics != nil {
		t.metrics.RecordConnState(t.endpoint, s.String(), stateNames)
	}
}

func (t *Transport) hasHandle(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.handles[id]
	return ok
}

func (t *Transport) snapshotHandles() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h)
	}
	return out
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, errHeartbeat):
		return "heartbeat"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "shutdown"
	default:
		return "transport_error"
	}
}

// session is the per-connection bookkeeping: one reader goroutine per live
// subscription, funneling frames into the transport channel and the first
// error into errCh.
type session struct {
	t    *Transport
	conn Conn

	// baseCtx scopes reader goroutines to the connection session rather
	// than to whichever caller issued the subscribe.
	baseCtx context.Context

	mu   sync.Mutex
	subs map[uint64]*subReader
	dead bool

	errOnce sync.Once
	errCh   chan error

	wg sync.WaitGroup
}

type subReader struct {
	sub    StreamSub
	cancel context.CancelFunc
}

func newSession(ctx context.Context, t *Transport, conn Conn) *session {
	return &session{
		t:       t,
		conn:    conn,
		baseCtx: ctx,
		subs:    make(map[uint64]*subReader),
		errCh:   make(chan error, 1),
	}
}

// start subscribes every registered handle on the new connection.
func (s *session) start(ctx context.Context) error {
	for _, h := range s.t.snapshotHandles() {
		if err := s.add(ctx, h); err != nil {
			return fmt.Errorf("register handle %d: %w", h.id, err)
		}
	}
	return nil
}

// add issues one subscription and starts its reader.
func (s *session) add(ctx context.Context, h *Handle) error {
	sub, err := s.conn.Subscribe(ctx, h.filter)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		cancel()
		sub.Unsubscribe()
		return nil
	}
	if prev, ok := s.subs[h.id]; ok {
		prev.cancel()
		prev.sub.Unsubscribe()
	}
	s.subs[h.id] = &subReader{sub: sub, cancel: cancel}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.read(rctx, h, sub)
	return nil
}

// remove stops one subscription's reader and unsubscribes it.
func (s *session) remove(id uint64) {
	s.mu.Lock()
	sr, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if ok {
		sr.cancel()
		sr.sub.Unsubscribe()
	}
}

// resync re-issues every subscription on the live connection.
func (s *session) resync(ctx context.Context) error {
	for _, h := range s.t.snapshotHandles() {
		if err := s.add(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) read(ctx context.Context, h *Handle, sub StreamSub) {
	defer s.wg.Done()

	for {
		fr, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("recv handle %d: %w", h.id, err))
			return
		}

		s.t.lastRecv.Store(time.Now().UnixNano())
		if s.t.metrics != nil {
			s.t.metrics.RecordFrame(h.filter.Kind.String())
		}

		// Unsubscribed handles stop emitting immediately even if the node
		// still pushes a few frames.
		if !s.t.hasHandle(h.id) {
			continue
		}

		fr.HandleID = h.id
		select {
		case s.t.frames <- *fr:
		case <-ctx.Done():
			return
		}
	}
}

// fail records the first session error; later errors are dropped.
func (s *session) fail(err error) {
	s.errOnce.Do(func() { s.errCh <- err })
}

// teardown cancels all readers and unsubscribes everything. A late add
// racing with teardown sees dead and releases its subscription itself.
func (s *session) teardown() {
	s.mu.Lock()
	s.dead = true
	for id, sr := range s.subs {
		sr.cancel()
		sr.sub.Unsubscribe()
		delete(s.subs, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
