package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "solwatch",
		Usage: "Solana account watcher CLI",
		Description: `A command-line tool for streaming and debugging solwatch events.

Use this CLI to stream account changes and alarms from JetStream, decode raw
account payloads, and run one-shot RPC queries.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// JetStream event streaming commands
			{
				Name:  "events",
				Usage: "JetStream event streaming commands",
				Subcommands: []*cli.Command{
					watchAccountsCommand(),
					watchAlarmsCommand(),
					inspectStreamCommand(),
				},
			},
			// Payload decoding commands
			{
				Name:  "decode",
				Usage: "Decode raw account and log payloads",
				Subcommands: []*cli.Command{
					decodeTokenAccountCommand(),
					decodeMintCommand(),
					decodeBondingCurveCommand(),
					decodeTradeLogCommand(),
				},
			},
			// One-shot RPC commands
			{
				Name:  "rpc",
				Usage: "One-shot Solana RPC queries",
				Subcommands: []*cli.Command{
					balanceCommand(),
					largestHoldersCommand(),
					curveAddressCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   "https://api.mainnet-beta.solana.com",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
