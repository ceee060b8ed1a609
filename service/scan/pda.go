package scan

import (
	"fmt"

	"github.com/brojonat/solwatch/service/codec"
	"github.com/gagliardetto/solana-go"
)

// curveSeed is the PDA seed the pump program uses for bonding curve accounts.
const curveSeed = "bonding-curve"

// CurveAddress derives the bonding curve account address for a mint.
func CurveAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	program := solana.MustPublicKeyFromBase58(codec.PumpProgram)
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(curveSeed), mint.Bytes()},
		program,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive curve address for %s: %w", mint, err)
	}
	return addr, nil
}
