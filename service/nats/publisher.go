package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwatch/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing chain events to NATS.
type Publisher interface {
	// PublishAccountEvent publishes a single account change to JetStream.
	// The event is published to the subject "accounts.{address}".
	PublishAccountEvent(ctx context.Context, event *AccountEvent) error

	// PublishAlarm publishes a trading alarm to JetStream.
	// The event is published to the subject "alarms.{mint}".
	PublishAlarm(ctx context.Context, event *AlarmEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes chain events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for chain events.
	StreamName = "ACCOUNTS"

	// StreamRetention is how long messages are retained (7 days by default).
	StreamRetention = 7 * 24 * time.Hour
)

// StreamSubjects are the subject patterns for the stream.
var StreamSubjects = []string{"accounts.>", "alarms.>"}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("solwatch-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Account changes and trading alarms from watched Solana accounts",
		Subjects:    StreamSubjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishAccountEvent publishes a single account change event.
func (p *JetStreamPublisher) PublishAccountEvent(ctx context.Context, event *AccountEvent) error {
	subject := fmt.Sprintf("accounts.%s", event.Address)

	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish account event: %w", err)
	}

	p.logger.Debug("published account event",
		"subject", subject,
		"address", event.Address,
		"slot", event.Slot,
	)

	return nil
}

// PublishAlarm publishes a trading alarm.
func (p *JetStreamPublisher) PublishAlarm(ctx context.Context, event *AlarmEvent) error {
	subject := fmt.Sprintf("alarms.%s", event.Mint)

	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish alarm: %w", err)
	}

	p.logger.Info("published alarm",
		"subject", subject,
		"mint", event.Mint,
		"buys", event.Buys,
		"total_sol", event.TotalSOL,
	)

	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
