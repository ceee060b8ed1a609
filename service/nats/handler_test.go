package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/solwatch/service/codec"
	"github.com/brojonat/solwatch/service/tracker"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changeEvent() tracker.ChangeEvent {
	addr := solana.PublicKey{1}
	return tracker.ChangeEvent{
		Address: addr,
		Previous: &tracker.AccountSnapshot{
			Address: addr,
			Slot:    10,
			Token:   &codec.TokenAccount{Amount: 100},
		},
		Current: &tracker.AccountSnapshot{
			Address:  addr,
			Owner:    solana.PublicKey{2},
			Slot:     11,
			Lamports: 2039280,
			Token:    &codec.TokenAccount{Amount: 90},
		},
	}
}

func TestAccountEventHandler_PublishesChange(t *testing.T) {
	pub := NewMockPublisher()
	h := NewAccountEventHandler(pub)

	require.NoError(t, h.Handle(context.Background(), changeEvent()))

	events := pub.GetPublishedEvents()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, solana.PublicKey{1}.String(), ev.Address)
	assert.Equal(t, uint64(11), ev.Slot)
	assert.Equal(t, uint64(90), ev.TokenAmount)
	require.NotNil(t, ev.TokenAmountPrev)
	assert.Equal(t, uint64(100), *ev.TokenAmountPrev)
	assert.False(t, ev.PublishedAt.IsZero())
}

func TestAccountEventHandler_FirstSnapshotHasNoPrevious(t *testing.T) {
	pub := NewMockPublisher()
	h := NewAccountEventHandler(pub)

	ev := changeEvent()
	ev.Previous = nil
	require.NoError(t, h.Handle(context.Background(), ev))

	events := pub.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].TokenAmountPrev)
}

func TestAccountEventHandler_PropagatesPublishError(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("nats unavailable"))
	h := NewAccountEventHandler(pub)

	err := h.Handle(context.Background(), changeEvent())
	assert.Error(t, err)
	assert.Empty(t, pub.GetPublishedEvents())
}
