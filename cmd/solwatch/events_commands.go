package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	natspkg "github.com/brojonat/solwatch/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// watchAccountsCommand streams account change events from JetStream.
func watchAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:      "accounts",
		Usage:     "Stream account change events",
		ArgsUsage: "[address]",
		Description: `Stream real-time account change events published to NATS JetStream.

Events are published to the subject: accounts.{address}. Without an address
argument every watched account is streamed.

Example:
  solwatch events accounts 7R4zU5pgHFxRQaNUhhCAPFXaSN6AWiheD6rRfkFJpump --json
  solwatch events accounts --must-jq '.token_amount > 1000000'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "solwatch-cli",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
		},
		Action: func(c *cli.Context) error {
			subject := "accounts.>"
			if c.NArg() == 1 {
				subject = fmt.Sprintf("accounts.%s", c.Args().Get(0))
			}

			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			return streamEvents(streamOptions{
				natsURL:      c.String("nats-url"),
				subject:      subject,
				durable:      c.Bool("durable"),
				consumerName: c.String("consumer-name"),
				jsonOutput:   c.Bool("json"),
				filters:      filters,
				print:        printAccountEvent,
			})
		},
	}
}

// watchAlarmsCommand streams dealer alarms from JetStream.
func watchAlarmsCommand() *cli.Command {
	return &cli.Command{
		Name:      "alarms",
		Usage:     "Stream dealer alarms",
		ArgsUsage: "[mint]",
		Description: `Stream dealer alarms published to NATS JetStream.

Alarms are published to the subject: alarms.{mint}. Without a mint argument
every alarm is streamed.

Example:
  solwatch events alarms --must-jq '.total_sol > 20'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
		},
		Action: func(c *cli.Context) error {
			subject := "alarms.>"
			if c.NArg() == 1 {
				subject = fmt.Sprintf("alarms.%s", c.Args().Get(0))
			}

			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			return streamEvents(streamOptions{
				natsURL:    c.String("nats-url"),
				subject:    subject,
				jsonOutput: c.Bool("json"),
				filters:    filters,
				print:      printAlarmEvent,
			})
		},
	}
}

type streamOptions struct {
	natsURL      string
	subject      string
	durable      bool
	consumerName string
	jsonOutput   bool
	filters      []*gojq.Code
	print        func(count int, doc map[string]interface{})
}

// streamEvents connects to NATS and streams matching events until
// interrupted.
func streamEvents(opts streamOptions) error {
	nc, err := nats.Connect(opts.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !opts.jsonOutput {
		fmt.Printf("Subscribing to: %s\n", opts.subject)
		fmt.Printf("   NATS: %s\n", opts.natsURL)
		if opts.durable {
			fmt.Printf("   Consumer: %s (durable)\n", opts.consumerName)
		}
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: opts.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if opts.durable {
		consumerConfig.Durable = opts.consumerName
		consumerConfig.Name = opts.consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var doc map[string]interface{}
			if err := json.Unmarshal(msg.Data(), &doc); err != nil {
				if !opts.jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			if !matchesJQFilters(doc, opts.filters) {
				msg.Ack()
				continue
			}

			count++
			if opts.jsonOutput {
				fmt.Println(string(msg.Data()))
			} else {
				opts.print(count, doc)
			}
			msg.Ack()

		case <-sigChan:
			if !opts.jsonOutput {
				fmt.Printf("\n\nReceived %d events\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

func printAccountEvent(count int, doc map[string]interface{}) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Account change #%d\n", count)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Address:      %v\n", doc["address"])
	fmt.Printf("Owner:        %v\n", doc["owner"])
	fmt.Printf("Slot:         %v\n", doc["slot"])
	fmt.Printf("Lamports:     %v\n", doc["lamports"])
	if mint, ok := doc["token_mint"]; ok {
		fmt.Printf("Token Mint:   %v\n", mint)
		fmt.Printf("Token Amount: %v\n", doc["token_amount"])
		if prev, ok := doc["token_amount_prev"]; ok {
			fmt.Printf("Previous:     %v\n", prev)
		}
	}
	fmt.Printf("Published:    %v\n", doc["published_at"])
	fmt.Printf("\n")
}

func printAlarmEvent(count int, doc map[string]interface{}) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Alarm #%d\n", count)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Mint:         %v\n", doc["mint"])
	fmt.Printf("Curve:        %v\n", doc["curve_address"])
	fmt.Printf("Slot:         %v\n", doc["slot"])
	fmt.Printf("Buys:         %v\n", doc["buys"])
	fmt.Printf("First Buy:    %v SOL\n", doc["first_buy_sol"])
	fmt.Printf("Total:        %v SOL\n", doc["total_sol"])
	fmt.Printf("Price:        %v SOL/token\n", doc["price"])
	fmt.Printf("Published:    %v\n", doc["published_at"])
	fmt.Printf("\n")
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the ACCOUNTS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  solwatch events inspect-stream`,
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(data))
			} else {
				fmt.Printf("Stream: %s\n", info.Config.Name)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Description:  %s\n", info.Config.Description)
				fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
				fmt.Printf("Messages:     %d\n", info.State.Msgs)
				fmt.Printf("Bytes:        %d\n", info.State.Bytes)
				fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
				fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
				fmt.Printf("Consumers:    %d\n", info.State.Consumers)
				fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
				fmt.Printf("Storage:      %s\n", info.Config.Storage)
				fmt.Printf("\n")
			}

			return nil
		},
	}
}
