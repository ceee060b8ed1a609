// Package tracker maintains the authoritative in-memory view of watched
// accounts. It is the only component that mutates the address->snapshot map;
// every other component sees point-in-time copies or change events.
package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brojonat/solwatch/service/codec"
	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/transport"
	"github.com/gagliardetto/solana-go"
)

// AccountSnapshot is the decoded state of one account at a ledger slot.
type AccountSnapshot struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Slot     uint64
	Data     []byte

	// Token is set when the account is owned by the SPL token program.
	Token *codec.TokenAccount
}

// clone returns a deep copy so callers never share mutable state with the map.
func (s *AccountSnapshot) clone() *AccountSnapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	if s.Token != nil {
		tok := *s.Token
		cp.Token = &tok
	}
	return &cp
}

// ChangeEvent reports that an address's state genuinely changed.
// Previous is nil for the first accepted snapshot of an address.
type ChangeEvent struct {
	Address  solana.PublicKey
	Previous *AccountSnapshot
	Current  *AccountSnapshot
}

// Sink receives change events. Emit may block to apply backpressure; it must
// never drop an event silently.
type Sink interface {
	Emit(ctx context.Context, ev ChangeEvent) error
}

// Tracker converts raw frames into snapshots and emits genuine changes.
type Tracker struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    Sink

	tokenProgram solana.PublicKey

	mu       sync.RWMutex
	accounts map[solana.PublicKey]*AccountSnapshot
}

// New creates a Tracker emitting change events into sink.
// If metrics is nil, no metrics are recorded.
func New(sink Sink, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		logger:       logger,
		metrics:      m,
		sink:         sink,
		tokenProgram: solana.MustPublicKeyFromBase58(codec.TokenProgram),
		accounts:     make(map[solana.PublicKey]*AccountSnapshot),
	}
}

// Run consumes frames until the channel closes or ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, frames <-chan transport.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-frames:
			if !ok {
				return nil
			}
			ev, accepted := t.apply(fr)
			if !accepted {
				continue
			}
			if err := t.sink.Emit(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				t.logger.Error("failed to emit change event",
					"address", ev.Address.String(),
					"slot", ev.Current.Slot,
					"error", err,
				)
			}
		}
	}
}

// apply decodes and applies one frame against the authoritative map.
// It returns the change event and whether the frame was accepted.
func (t *Tracker) apply(fr transport.Frame) (ChangeEvent, bool) {
	snap := &AccountSnapshot{
		Address:  fr.Address,
		Owner:    fr.Owner,
		Lamports: fr.Lamports,
		Slot:     fr.Slot,
		Data:     fr.Data,
	}

	// Token accounts must decode; a malformed payload is dropped, never
	// fatal. Accounts with other owners keep their data opaque.
	if fr.Owner.Equals(t.tokenProgram) {
		tok, err := codec.DecodeTokenAccount(fr.Data)
		if err != nil {
			t.logger.Warn("dropping frame with undecodable token account",
				"address", fr.Address.String(),
				"slot", fr.Slot,
				"error", err,
			)
			if t.metrics != nil {
				t.metrics.RecordDecodeError("token_account")
				t.metrics.RecordFrameDropped("decode_error")
			}
			return ChangeEvent{}, false
		}
		snap.Token = tok
	}

	t.mu.Lock()
	prev := t.accounts[fr.Address]
	if prev != nil && fr.Slot <= prev.Slot {
		t.mu.Unlock()
		t.logger.Debug("dropping stale frame",
			"address", fr.Address.String(),
			"slot", fr.Slot,
			"have_slot", prev.Slot,
		)
		if t.metrics != nil {
			t.metrics.RecordFrameDropped("stale_slot")
		}
		return ChangeEvent{}, false
	}
	t.accounts[fr.Address] = snap
	size := len(t.accounts)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordTrackedAccounts(size)
		t.metrics.RecordChangeEvent(fr.Address.String())
	}

	return ChangeEvent{
		Address:  fr.Address,
		Previous: prev.clone(),
		Current:  snap.clone(),
	}, true
}

// Snapshot returns a point-in-time copy of one account's state.
func (t *Tracker) Snapshot(addr solana.PublicKey) (*AccountSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.accounts[addr]
	if !ok {
		return nil, false
	}
	return snap.clone(), true
}

// Snapshots returns point-in-time copies of every tracked account.
func (t *Tracker) Snapshots() []*AccountSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*AccountSnapshot, 0, len(t.accounts))
	for _, snap := range t.accounts {
		out = append(out, snap.clone())
	}
	return out
}

// Forget drops an address from the authoritative map, typically after its
// watch was unsubscribed.
func (t *Tracker) Forget(addr solana.PublicKey) {
	t.mu.Lock()
	delete(t.accounts, addr)
	size := len(t.accounts)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordTrackedAccounts(size)
	}
}
