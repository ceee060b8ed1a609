package nats

import (
	"time"

	"github.com/brojonat/solwatch/service/tracker"
)

// AccountEvent represents an account change published to NATS.
// This is published to the subject "accounts.{address}" in JetStream.
type AccountEvent struct {
	// Account identifiers
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Slot    uint64 `json:"slot"`

	// Account state
	Lamports uint64 `json:"lamports"`

	// Token fields, set when the account is an SPL token account
	TokenMint       string  `json:"token_mint,omitempty"`
	TokenOwner      string  `json:"token_owner,omitempty"`
	TokenAmount     uint64  `json:"token_amount,omitempty"`
	TokenAmountPrev *uint64 `json:"token_amount_prev,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// AlarmEvent represents a raised trading alarm.
// This is published to the subject "alarms.{mint}" in JetStream.
type AlarmEvent struct {
	Mint         string    `json:"mint"`
	CurveAddress string    `json:"curve_address"`
	Slot         uint64    `json:"slot"`
	Buys         int       `json:"buys"`
	FirstBuySOL  float64   `json:"first_buy_sol"`
	TotalSOL     float64   `json:"total_sol"`
	Price        float64   `json:"price"`
	PublishedAt  time.Time `json:"published_at"`
}

// FromChangeEvent converts a tracker change event to an AccountEvent for
// publishing.
func FromChangeEvent(ev tracker.ChangeEvent) *AccountEvent {
	out := &AccountEvent{
		Address:     ev.Address.String(),
		Owner:       ev.Current.Owner.String(),
		Slot:        ev.Current.Slot,
		Lamports:    ev.Current.Lamports,
		PublishedAt: time.Now().UTC(),
	}

	if tok := ev.Current.Token; tok != nil {
		out.TokenMint = tok.Mint.String()
		out.TokenOwner = tok.Owner.String()
		out.TokenAmount = tok.Amount
	}
	if ev.Previous != nil && ev.Previous.Token != nil {
		prev := ev.Previous.Token.Amount
		out.TokenAmountPrev = &prev
	}

	return out
}
