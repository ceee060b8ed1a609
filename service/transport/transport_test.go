package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solwatch/service/backoff"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSub is a scriptable subscription stream.
type fakeSub struct {
	filter   Filter
	frames   chan *Frame
	fail     chan error
	mu       sync.Mutex
	unsubbed bool
}

func (s *fakeSub) Recv(ctx context.Context) (*Frame, error) {
	select {
	case fr := <-s.frames:
		return fr, nil
	case err := <-s.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubbed = true
}

// fakeConn records subscriptions and lets tests push frames and errors.
type fakeConn struct {
	mu      sync.Mutex
	subs    []*fakeSub
	closed  bool
	started int
	gate    chan struct{} // when set, the first Subscribe call blocks until closed
}

func (c *fakeConn) Subscribe(ctx context.Context, f Filter) (StreamSub, error) {
	c.mu.Lock()
	c.started++
	gated := c.started == 1 && c.gate != nil
	gate := c.gate
	c.mu.Unlock()
	if gated {
		<-gate
	}

	sub := &fakeSub{
		filter: f,
		frames: make(chan *Frame, 16),
		fail:   make(chan error, 1),
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub, nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeConn) subStarted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *fakeConn) lastSub() *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return nil
	}
	return c.subs[len(c.subs)-1]
}

// fakeDialer fails the first failDials attempts, then hands out fakeConns.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failDials int
	gate      chan struct{} // handed to each conn it creates
}

func (d *fakeDialer) dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failDials > 0 {
		d.failDials--
		return nil, errors.New("connection refused")
	}
	conn := &fakeConn{gate: d.gate}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(d *fakeDialer, heartbeat time.Duration) *Transport {
	return New(Options{
		Endpoint:  "ws://test",
		Dial:      d.dial,
		Heartbeat: heartbeat,
		Backoff:   backoff.Policy{Base: 2 * time.Millisecond, Cap: 10 * time.Millisecond},
	}, testLogger(), nil)
}

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func TestTransport_DeliversTaggedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDialer{}
	tr := newTestTransport(d, time.Hour)

	h, err := tr.Subscribe(ctx, Filter{Kind: FilterAccount, Key: key(1)})
	require.NoError(t, err)

	go tr.Run(ctx)

	require.Eventually(t, func() bool { return d.connCount() == 1 }, time.Second, time.Millisecond)
	conn := d.conn(0)
	require.Eventually(t, func() bool { return conn.subCount() == 1 }, time.Second, time.Millisecond)

	conn.lastSub().frames <- &Frame{Slot: 7, Address: key(1), Lamports: 100}

	select {
	case fr := <-tr.Frames():
		assert.Equal(t, h.ID(), fr.HandleID)
		assert.Equal(t, uint64(7), fr.Slot)
		assert.Equal(t, key(1), fr.Address)
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestTransport_ResubscribesAllHandlesAfterDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDialer{}
	tr := newTestTransport(d, time.Hour)

	_, err := tr.Subscribe(ctx, Filter{Kind: FilterAccount, Key: key(1)})
	require.NoError(t, err)
	h2, err := tr.Subscribe(ctx, Filter{Kind: FilterProgram, Key: key(2)})
	require.NoError(t, err)

	go tr.Run(ctx)

	require.Eventually(t, func() bool {
		return d.connCount() == 1 && d.conn(0).subCount() == 2
	}, time.Second, time.Millisecond)

	// Kill the connection via a read error on one subscription.
	d.conn(0).subs[0].fail <- errors.New("broken pipe")

	// Both handles come back on the new connection within the backoff window.
	require.Eventually(t, func() bool {
		return d.connCount() == 2 && d.conn(1).subCount() == 2
	}, time.Second, time.Millisecond)

	// Updates after reconnection completes are not lost.
	conn := d.conn(1)
	var progSub *fakeSub
	for _, s := range conn.subs {
		if s.filter.Kind == FilterProgram {
			progSub = s
		}
	}
	require.NotNil(t, progSub)
	progSub.frames <- &Frame{Slot: 42, Address: key(9)}

	select {
	case fr := <-tr.Frames():
		assert.Equal(t, h2.ID(), fr.HandleID)
		assert.Equal(t, uint64(42), fr.Slot)
	case <-time.After(time.Second):
		t.Fatal("no frame after reconnect")
	}
}

func TestTransport_SubscribeDuringConnectLandsOnLiveSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	tr := newTestTransport(d, time.Hour)

	_, err := tr.Subscribe(ctx, Filter{Kind: FilterAccount, Key: key(1)})
	require.NoError(t, err)

	go tr.Run(ctx)

	// The first handle's registration is in flight but held at the node.
	require.Eventually(t, func() bool {
		return d.connCount() == 1 && d.conn(0).subStarted() >= 1
	}, time.Second, time.Millisecond)

	// A handle registered in this window must still reach the connection.
	h2, err := tr.Subscribe(ctx, Filter{Kind: FilterProgram, Key: key(2)})
	require.NoError(t, err)
	close(gate)

	conn := d.conn(0)
	require.Eventually(t, func() bool { return conn.subCount() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return tr.State() == StateSubscribed }, time.Second, time.Millisecond)

	var progSub *fakeSub
	conn.mu.Lock()
	for _, s := range conn.subs {
		if s.filter.Kind == FilterProgram {
			progSub = s
		}
	}
	conn.mu.Unlock()
	require.NotNil(t, progSub, "second handle was never subscribed on the live session")

	progSub.frames <- &Frame{Slot: 11, Address: key(2)}
	select {
	case fr := <-tr.Frames():
		assert.Equal(t, h2.ID(), fr.HandleID)
		assert.Equal(t, uint64(11), fr.Slot)
	case <-time.After(time.Second):
		t.Fatal("no frame for handle registered during connect")
	}
}

func TestTransport_UnsubscribeStopsEmissions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDialer{}
	tr := newTestTransport(d, time.Hour)

	h, err := tr.Subscribe(ctx, Filter{Kind: FilterAccount, Key: key(1)})
	require.NoError(t, err)

	go tr.Run(ctx)
	require.Eventually(t, func() bool {
		return d.connCount() == 1 && d.conn(0).subCount() == 1
	}, time.Second, time.Millisecond)

	sub := d.conn(0).lastSub()
	tr.Unsubscribe(h)

	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.unsubbed
	}, time.Second, time.Millisecond)

	// Frames still in flight from the node are dropped, not delivered.
	select {
	case sub.frames <- &Frame{Slot: 9, Address: key(1)}:
	default:
	}

	select {
	case fr := <-tr.Frames():
		t.Fatalf("unexpected frame after unsubscribe: %+v", fr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransport_ReconnectBudgetExhausted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDialer{failDials: 100}
	tr := New(Options{
		Endpoint:      "ws://test",
		Dial:          d.dial,
		Heartbeat:     time.Hour,
		Backoff:       backoff.Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond},
		MaxReconnects: 3,
	}, testLogger(), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Run(ctx) }()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reconnect budget exhausted")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not give up")
	}
}

func TestTransport_HeartbeatDegradesThenDisconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDialer{}
	tr := newTestTransport(d, 30*time.Millisecond)

	_, err := tr.Subscribe(ctx, Filter{Kind: FilterAccount, Key: key(1)})
	require.NoError(t, err)

	go tr.Run(ctx)

	require.Eventually(t, func() bool {
		return d.connCount() == 1 && d.conn(0).subCount() == 1
	}, time.Second, time.Millisecond)

	// First missed heartbeat resubscribes in place on the same connection.
	require.Eventually(t, func() bool {
		return d.conn(0).subCount() >= 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, d.connCount())

	// A second quiet interval tears the connection down and redials.
	require.Eventually(t, func() bool {
		return d.connCount() >= 2
	}, 2*time.Second, time.Millisecond)
}

func TestTransport_StateMachineStrings(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "degraded", StateDegraded.String())
}
