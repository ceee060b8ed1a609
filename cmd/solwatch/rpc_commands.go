package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/solwatch/service/backoff"
	"github.com/brojonat/solwatch/service/executor"
	"github.com/brojonat/solwatch/service/scan"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// newExecutor builds a one-shot executor for CLI queries. Retries use the
// same policy the daemon uses.
func newExecutor(c *cli.Context) *executor.Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := executor.NewSolanaClient(c.String("rpc-url"), nil)
	return executor.New(client, executor.Options{
		MaxAttempts: 3,
		Backoff:     backoff.Policy{Base: time.Second, Cap: 10 * time.Second},
		CallTimeout: 15 * time.Second,
	}, logger, nil)
}

// balanceCommand queries the lamport balance of an account.
func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Query the lamport balance of an account",
		ArgsUsage: "[address]",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("account address is required")
			}
			key, err := solana.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid account address: %w", err)
			}

			res, err := newExecutor(c).Execute(c.Context, executor.Request{
				Kind:    executor.KindQueryBalance,
				Account: key,
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]interface{}{
					"address":  key.String(),
					"lamports": res.Lamports,
					"sol":      float64(res.Lamports) / 1e9,
				})
				fmt.Println(string(data))
			} else {
				fmt.Printf("Address:  %s\n", key)
				fmt.Printf("Balance:  %d lamports (%.9f SOL)\n", res.Lamports, float64(res.Lamports)/1e9)
			}
			return nil
		},
	}
}

// largestHoldersCommand queries the largest token accounts of a mint.
func largestHoldersCommand() *cli.Command {
	return &cli.Command{
		Name:      "largest-holders",
		Usage:     "Query the largest token accounts of a mint",
		ArgsUsage: "[mint]",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("mint address is required")
			}
			mint, err := solana.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid mint address: %w", err)
			}

			res, err := newExecutor(c).Execute(c.Context, executor.Request{
				Kind:    executor.KindQueryLargestHolders,
				Account: mint,
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(res.Holders, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Largest holders of %s:\n", mint)
			for i, h := range res.Holders {
				fmt.Printf("%2d. %s  %s (decimals %d)\n", i+1, h.Address, h.Amount, h.Decimals)
			}
			return nil
		},
	}
}

// curveAddressCommand derives the bonding curve address for a mint.
func curveAddressCommand() *cli.Command {
	return &cli.Command{
		Name:      "curve-address",
		Usage:     "Derive the pump bonding curve address for a mint",
		ArgsUsage: "[mint]",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("mint address is required")
			}
			mint, err := solana.PublicKeyFromBase58(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid mint address: %w", err)
			}

			curve, err := scan.CurveAddress(mint)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]string{
					"mint":  mint.String(),
					"curve": curve.String(),
				})
				fmt.Println(string(data))
			} else {
				fmt.Printf("Mint:   %s\n", mint)
				fmt.Printf("Curve:  %s\n", curve)
			}
			return nil
		},
	}
}
