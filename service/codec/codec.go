// Package codec decodes raw Solana account bytes and program log payloads
// into typed records. All functions are pure: they validate length and
// discriminant tags before interpreting fields and never panic on
// malformed input.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Well-known program addresses.
const (
	TokenProgram           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	PumpProgram            = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	PumpGlobal             = "4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf"
	PumpFeeRecipient       = "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM"
)

// Minimum layout sizes in bytes. Trailing bytes beyond these are tolerated
// for forward compatibility; shorter input fails with ErrTruncated.
const (
	TokenAccountSize = 165
	MintSize         = 82
	BondingCurveSize = 49
	TradeEventSize   = 129
)

// Anchor account/event discriminators (first 8 bytes, little-endian u64).
const (
	BondingCurveDiscriminator uint64 = 6966180631402821399
	TradeEventDiscriminator   uint64 = 17177263679997991869
)

// tradeLogPrefix marks a program log line carrying base64 event data.
const tradeLogPrefix = "Program data: "

// ErrTruncated indicates the input is shorter than the declared minimum
// layout size.
var ErrTruncated = errors.New("truncated input")

// ErrBadDiscriminator indicates the leading discriminant tag does not match
// the expected layout.
var ErrBadDiscriminator = errors.New("unexpected discriminator")

// DecodeError wraps a decode failure with the layout that was attempted.
type DecodeError struct {
	Layout string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Layout, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(layout string, err error) error {
	return &DecodeError{Layout: layout, Err: err}
}

// AccountState is the SPL token account state tag.
type AccountState uint8

const (
	StateUninitialized AccountState = iota
	StateInitialized
	StateFrozen
)

func (s AccountState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// TokenAccount is the decoded 165-byte SPL token account layout.
type TokenAccount struct {
	Mint                 solana.PublicKey
	Owner                solana.PublicKey
	Amount               uint64
	DelegateOption       uint32
	Delegate             solana.PublicKey
	State                AccountState
	IsNativeOption       uint32
	IsNative             uint64
	DelegatedAmount      uint64
	CloseAuthorityOption uint32
	CloseAuthority       solana.PublicKey
}

// DecodeTokenAccount decodes an SPL token account from raw account data.
// Extra trailing bytes (token-2022 extensions) are ignored.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return nil, decodeErr("token account", fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(data), TokenAccountSize))
	}

	var acc TokenAccount
	dec := bin.NewBinDecoder(data[:TokenAccountSize])
	if err := dec.Decode(&acc); err != nil {
		return nil, decodeErr("token account", err)
	}

	if acc.State > StateFrozen {
		return nil, decodeErr("token account", fmt.Errorf("invalid state tag %d", acc.State))
	}

	return &acc, nil
}

// Mint is the decoded 82-byte SPL mint layout.
type Mint struct {
	MintAuthorityOption   uint32
	MintAuthority         solana.PublicKey
	Supply                uint64
	Decimals              uint8
	IsInitialized         uint8
	FreezeAuthorityOption uint32
	FreezeAuthority       solana.PublicKey
}

// DecodeMint decodes an SPL mint from raw account data.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) < MintSize {
		return nil, decodeErr("mint", fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(data), MintSize))
	}

	var m Mint
	dec := bin.NewBinDecoder(data[:MintSize])
	if err := dec.Decode(&m); err != nil {
		return nil, decodeErr("mint", err)
	}

	return &m, nil
}

// BondingCurve is the decoded pump bonding curve account.
type BondingCurve struct {
	Discriminator        uint64
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// DecodeBondingCurve decodes a pump bonding curve account and validates its
// discriminator tag.
func DecodeBondingCurve(data []byte) (*BondingCurve, error) {
	if len(data) < BondingCurveSize {
		return nil, decodeErr("bonding curve", fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(data), BondingCurveSize))
	}

	var bc BondingCurve
	dec := bin.NewBinDecoder(data[:BondingCurveSize])
	if err := dec.Decode(&bc); err != nil {
		return nil, decodeErr("bonding curve", err)
	}

	if bc.Discriminator != BondingCurveDiscriminator {
		return nil, decodeErr("bonding curve", fmt.Errorf("%w: %d", ErrBadDiscriminator, bc.Discriminator))
	}

	return &bc, nil
}

// Price returns the curve price in SOL per token, derived from the virtual
// reserves (SOL has 9 decimals, pump tokens 6).
func (bc *BondingCurve) Price() float64 {
	if bc.VirtualTokenReserves == 0 {
		return 0
	}
	sol := float64(bc.VirtualSolReserves) / 1e9
	tokens := float64(bc.VirtualTokenReserves) / 1e6
	return sol / tokens
}

// TradeEvent is a pump trade event emitted in program logs.
type TradeEvent struct {
	Mint                 solana.PublicKey
	SolAmount            uint64
	TokenAmount          uint64
	IsBuy                bool
	User                 solana.PublicKey
	Timestamp            int64
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
}

// Price returns the post-trade price in SOL per token.
func (e *TradeEvent) Price() float64 {
	if e.VirtualTokenReserves == 0 {
		return 0
	}
	sol := float64(e.VirtualSolReserves) / 1e9
	tokens := float64(e.VirtualTokenReserves) / 1e6
	return sol / tokens
}

// tradeEventLayout mirrors the on-wire field order of TradeEvent after the
// 8-byte discriminator.
type tradeEventLayout struct {
	Mint                 solana.PublicKey
	SolAmount            uint64
	TokenAmount          uint64
	IsBuy                bool
	User                 solana.PublicKey
	Timestamp            int64
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
}

// ParseTradeLog parses a "Program data: <base64>" log line into a TradeEvent.
// Lines that are not program data, or that decode to a different event, fail
// with a DecodeError.
func ParseTradeLog(line string) (*TradeEvent, error) {
	payload, ok := strings.CutPrefix(line, tradeLogPrefix)
	if !ok {
		return nil, decodeErr("trade event", errors.New("not a program data log line"))
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, decodeErr("trade event", fmt.Errorf("invalid base64: %w", err))
	}

	return DecodeTradeEvent(raw)
}

// DecodeTradeEvent decodes the 129-byte trade event payload, validating the
// discriminator before interpreting fields.
func DecodeTradeEvent(raw []byte) (*TradeEvent, error) {
	if len(raw) < TradeEventSize {
		return nil, decodeErr("trade event", fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(raw), TradeEventSize))
	}

	dec := bin.NewBinDecoder(raw[:TradeEventSize])
	disc, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, decodeErr("trade event", err)
	}
	if disc != TradeEventDiscriminator {
		return nil, decodeErr("trade event", fmt.Errorf("%w: %d", ErrBadDiscriminator, disc))
	}

	var layout tradeEventLayout
	if err := dec.Decode(&layout); err != nil {
		return nil, decodeErr("trade event", err)
	}

	return &TradeEvent{
		Mint:                 layout.Mint,
		SolAmount:            layout.SolAmount,
		TokenAmount:          layout.TokenAmount,
		IsBuy:                layout.IsBuy,
		User:                 layout.User,
		Timestamp:            layout.Timestamp,
		VirtualSolReserves:   layout.VirtualSolReserves,
		VirtualTokenReserves: layout.VirtualTokenReserves,
		RealSolReserves:      layout.RealSolReserves,
		RealTokenReserves:    layout.RealTokenReserves,
	}, nil
}
