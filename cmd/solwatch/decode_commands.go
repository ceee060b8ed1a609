package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/solwatch/service/codec"
	"github.com/urfave/cli/v2"
)

func decodePayloadArg(c *cli.Context) ([]byte, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("base64 payload is required")
	}
	data, err := base64.StdEncoding.DecodeString(c.Args().Get(0))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, nil
}

func printDecoded(c *cli.Context, v interface{}, human func()) error {
	if c.Bool("json") {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	human()
	return nil
}

// decodeTokenAccountCommand decodes a raw SPL token account payload.
func decodeTokenAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "token-account",
		Usage:     "Decode a base64 SPL token account payload",
		ArgsUsage: "[base64_data]",
		Action: func(c *cli.Context) error {
			data, err := decodePayloadArg(c)
			if err != nil {
				return err
			}

			acc, err := codec.DecodeTokenAccount(data)
			if err != nil {
				return err
			}

			return printDecoded(c, acc, func() {
				fmt.Printf("Mint:             %s\n", acc.Mint)
				fmt.Printf("Owner:            %s\n", acc.Owner)
				fmt.Printf("Amount:           %d\n", acc.Amount)
				fmt.Printf("State:            %s\n", acc.State)
				if acc.DelegateOption != 0 {
					fmt.Printf("Delegate:         %s\n", acc.Delegate)
					fmt.Printf("Delegated Amount: %d\n", acc.DelegatedAmount)
				}
				if acc.IsNativeOption != 0 {
					fmt.Printf("Native:           %d lamports\n", acc.IsNative)
				}
			})
		},
	}
}

// decodeMintCommand decodes a raw SPL mint payload.
func decodeMintCommand() *cli.Command {
	return &cli.Command{
		Name:      "mint",
		Usage:     "Decode a base64 SPL mint payload",
		ArgsUsage: "[base64_data]",
		Action: func(c *cli.Context) error {
			data, err := decodePayloadArg(c)
			if err != nil {
				return err
			}

			m, err := codec.DecodeMint(data)
			if err != nil {
				return err
			}

			return printDecoded(c, m, func() {
				fmt.Printf("Supply:       %d\n", m.Supply)
				fmt.Printf("Decimals:     %d\n", m.Decimals)
				fmt.Printf("Initialized:  %t\n", m.IsInitialized == 1)
				if m.MintAuthorityOption != 0 {
					fmt.Printf("Authority:    %s\n", m.MintAuthority)
				}
				if m.FreezeAuthorityOption != 0 {
					fmt.Printf("Freeze Auth:  %s\n", m.FreezeAuthority)
				}
			})
		},
	}
}

// decodeBondingCurveCommand decodes a pump bonding curve account payload.
func decodeBondingCurveCommand() *cli.Command {
	return &cli.Command{
		Name:      "bonding-curve",
		Usage:     "Decode a base64 pump bonding curve payload",
		ArgsUsage: "[base64_data]",
		Action: func(c *cli.Context) error {
			data, err := decodePayloadArg(c)
			if err != nil {
				return err
			}

			bc, err := codec.DecodeBondingCurve(data)
			if err != nil {
				return err
			}

			return printDecoded(c, bc, func() {
				fmt.Printf("Virtual SOL:    %d lamports\n", bc.VirtualSolReserves)
				fmt.Printf("Virtual Tokens: %d\n", bc.VirtualTokenReserves)
				fmt.Printf("Real SOL:       %d lamports\n", bc.RealSolReserves)
				fmt.Printf("Real Tokens:    %d\n", bc.RealTokenReserves)
				fmt.Printf("Total Supply:   %d\n", bc.TokenTotalSupply)
				fmt.Printf("Complete:       %t\n", bc.Complete)
				fmt.Printf("Price:          %.12f SOL/token\n", bc.Price())
			})
		},
	}
}

// decodeTradeLogCommand decodes a pump trade event from a program log line.
func decodeTradeLogCommand() *cli.Command {
	return &cli.Command{
		Name:      "trade-log",
		Usage:     "Decode a pump trade event from a program log line",
		ArgsUsage: "[log_line]",
		Description: `Decode a trade event from a "Program data: ..." log line as emitted
by logsSubscribe, or from the bare base64 payload.

Example:
  solwatch decode trade-log "Program data: vdt/007mYe5..."`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("log line is required")
			}

			arg := c.Args().Get(0)
			ev, err := codec.ParseTradeLog(arg)
			if err != nil {
				// Fall back to a bare base64 payload.
				raw, b64Err := base64.StdEncoding.DecodeString(arg)
				if b64Err != nil {
					return err
				}
				ev, err = codec.DecodeTradeEvent(raw)
				if err != nil {
					return err
				}
			}

			return printDecoded(c, ev, func() {
				side := "SELL"
				if ev.IsBuy {
					side = "BUY"
				}
				fmt.Printf("Side:       %s\n", side)
				fmt.Printf("Mint:       %s\n", ev.Mint)
				fmt.Printf("User:       %s\n", ev.User)
				fmt.Printf("SOL:        %.9f\n", float64(ev.SolAmount)/1e9)
				fmt.Printf("Tokens:     %d\n", ev.TokenAmount)
				fmt.Printf("Price:      %.12f SOL/token\n", ev.Price())
				fmt.Printf("Time:       %s\n", time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339))
			})
		},
	}
}
