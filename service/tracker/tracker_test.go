package tracker

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/solwatch/service/codec"
	"github.com/brojonat/solwatch/service/transport"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectSink records emitted change events.
type collectSink struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (s *collectSink) Emit(ctx context.Context, ev ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *collectSink) all() []ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChangeEvent(nil), s.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker() (*Tracker, *collectSink) {
	sink := &collectSink{}
	return New(sink, testLogger(), nil), sink
}

var tokenProgram = solana.MustPublicKeyFromBase58(codec.TokenProgram)

func addr(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

// tokenFrame builds a frame carrying a valid SPL token account with the
// given amount.
func tokenFrame(address solana.PublicKey, slot, amount uint64) transport.Frame {
	data := make([]byte, codec.TokenAccountSize)
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1 // initialized
	return transport.Frame{
		Slot:     slot,
		Address:  address,
		Owner:    tokenProgram,
		Lamports: 2039280,
		Data:     data,
	}
}

// opaqueFrame builds a frame for an account not owned by the token program.
func opaqueFrame(address solana.PublicKey, slot uint64, data []byte) transport.Frame {
	return transport.Frame{
		Slot:    slot,
		Address: address,
		Owner:   addr(0xAA),
		Data:    data,
	}
}

func TestTracker_EmitsChangesInSlotOrder(t *testing.T) {
	tr, sink := newTestTracker()
	a := addr(1)

	// slot=1 amount=100, then slot=2 amount=90, then a late slot=1 amount=50.
	_, ok := tr.apply(tokenFrame(a, 1, 100))
	require.True(t, ok)
	_, ok = tr.apply(tokenFrame(a, 2, 90))
	require.True(t, ok)
	_, ok = tr.apply(tokenFrame(a, 1, 50))
	assert.False(t, ok, "late frame with old slot must be dropped")

	snap, found := tr.Snapshot(a)
	require.True(t, found)
	assert.Equal(t, uint64(2), snap.Slot)
	assert.Equal(t, uint64(90), snap.Token.Amount)
	_ = sink
}

func TestTracker_DuplicateSlotIsIdempotent(t *testing.T) {
	tr, _ := newTestTracker()
	a := addr(1)

	ev, ok := tr.apply(tokenFrame(a, 5, 100))
	require.True(t, ok)
	assert.Nil(t, ev.Previous)
	assert.Equal(t, uint64(100), ev.Current.Token.Amount)

	// Replaying the identical update produces no second event.
	_, ok = tr.apply(tokenFrame(a, 5, 100))
	assert.False(t, ok)
}

func TestTracker_HighestSlotWinsPerAddress(t *testing.T) {
	tr, _ := newTestTracker()
	a, b := addr(1), addr(2)

	// Interleaved updates for two addresses with some duplicates.
	frames := []transport.Frame{
		tokenFrame(a, 1, 10),
		tokenFrame(b, 3, 30),
		tokenFrame(a, 2, 20),
		tokenFrame(b, 3, 99), // duplicate slot, dropped
		tokenFrame(a, 4, 40),
		tokenFrame(b, 5, 50),
	}
	for _, fr := range frames {
		tr.apply(fr)
	}

	snapA, _ := tr.Snapshot(a)
	snapB, _ := tr.Snapshot(b)
	assert.Equal(t, uint64(4), snapA.Slot)
	assert.Equal(t, uint64(40), snapA.Token.Amount)
	assert.Equal(t, uint64(5), snapB.Slot)
	assert.Equal(t, uint64(30), snapB.Token.Amount)
	assert.Len(t, tr.Snapshots(), 2)
}

func TestTracker_DecodeErrorDropsFrameNonFatally(t *testing.T) {
	tr, _ := newTestTracker()
	a := addr(1)

	// Token-program owner with a truncated payload.
	bad := transport.Frame{
		Slot:    1,
		Address: a,
		Owner:   tokenProgram,
		Data:    []byte{1, 2, 3},
	}
	_, ok := tr.apply(bad)
	assert.False(t, ok)

	_, found := tr.Snapshot(a)
	assert.False(t, found)

	// A later valid frame is still accepted.
	_, ok = tr.apply(tokenFrame(a, 2, 7))
	assert.True(t, ok)
}

func TestTracker_OpaqueOwnersKeepRawData(t *testing.T) {
	tr, _ := newTestTracker()
	a := addr(1)

	ev, ok := tr.apply(opaqueFrame(a, 1, []byte{0xde, 0xad}))
	require.True(t, ok)
	assert.Nil(t, ev.Current.Token)
	assert.Equal(t, []byte{0xde, 0xad}, ev.Current.Data)
}

func TestTracker_ChangeEventCarriesPrevious(t *testing.T) {
	tr, _ := newTestTracker()
	a := addr(1)

	tr.apply(tokenFrame(a, 1, 100))
	ev, ok := tr.apply(tokenFrame(a, 2, 90))
	require.True(t, ok)
	require.NotNil(t, ev.Previous)
	assert.Equal(t, uint64(100), ev.Previous.Token.Amount)
	assert.Equal(t, uint64(90), ev.Current.Token.Amount)
}

func TestTracker_SnapshotsAreCopies(t *testing.T) {
	tr, _ := newTestTracker()
	a := addr(1)

	tr.apply(tokenFrame(a, 1, 100))

	snap, _ := tr.Snapshot(a)
	snap.Data[0] = 0xFF
	snap.Token.Amount = 0

	again, _ := tr.Snapshot(a)
	assert.NotEqual(t, byte(0xFF), again.Data[0])
	assert.Equal(t, uint64(100), again.Token.Amount)
}

func TestTracker_Forget(t *testing.T) {
	tr, _ := newTestTracker()
	a := addr(1)

	tr.apply(tokenFrame(a, 1, 100))
	tr.Forget(a)

	_, found := tr.Snapshot(a)
	assert.False(t, found)

	// After forgetting, any slot is acceptable again.
	_, ok := tr.apply(tokenFrame(a, 1, 50))
	assert.True(t, ok)
}

func TestTracker_RunEmitsThroughSink(t *testing.T) {
	tr, sink := newTestTracker()
	a := addr(1)

	frames := make(chan transport.Frame, 4)
	frames <- tokenFrame(a, 1, 100)
	frames <- tokenFrame(a, 2, 90)
	frames <- tokenFrame(a, 1, 50) // dropped
	close(frames)

	err := tr.Run(context.Background(), frames)
	require.NoError(t, err)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Current.Slot)
	assert.Equal(t, uint64(2), events[1].Current.Slot)
	assert.Equal(t, uint64(100), events[0].Current.Token.Amount)
	assert.Equal(t, uint64(90), events[1].Current.Token.Amount)
}
