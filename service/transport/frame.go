package transport

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// FilterKind selects the subscription method used for a watch.
type FilterKind int

const (
	// FilterAccount watches a single account via accountSubscribe.
	FilterAccount FilterKind = iota
	// FilterProgram watches all accounts owned by a program via programSubscribe.
	FilterProgram
)

func (k FilterKind) String() string {
	switch k {
	case FilterAccount:
		return "account"
	case FilterProgram:
		return "program"
	default:
		return "unknown"
	}
}

// Filter describes one logical watch.
type Filter struct {
	Kind FilterKind
	Key  solana.PublicKey
}

// Handle identifies one logical subscription. The transport owns the
// handle; consumers reference it by ID only.
type Handle struct {
	id     uint64
	filter Filter
}

// ID returns the handle's correlation id.
func (h *Handle) ID() uint64 { return h.id }

// Filter returns the watch filter the handle was created with.
func (h *Handle) Filter() Filter { return h.filter }

// Frame is a raw account update tagged with its owning handle.
type Frame struct {
	HandleID uint64
	Slot     uint64
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// StreamSub is one live subscription on a connection.
type StreamSub interface {
	// Recv blocks until the next update frame or an error. The returned
	// frame has no HandleID; the transport tags it.
	Recv(ctx context.Context) (*Frame, error)
	Unsubscribe()
}

// Conn is an established streaming connection to a ledger node.
type Conn interface {
	Subscribe(ctx context.Context, f Filter) (StreamSub, error)
	Close()
}

// Dialer establishes a Conn to the given endpoint. The transport is written
// against this seam so reconnect logic is testable without a real node.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)
