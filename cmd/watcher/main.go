package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brojonat/solwatch/service/backoff"
	"github.com/brojonat/solwatch/service/config"
	"github.com/brojonat/solwatch/service/dispatch"
	"github.com/brojonat/solwatch/service/executor"
	"github.com/brojonat/solwatch/service/metrics"
	natspkg "github.com/brojonat/solwatch/service/nats"
	"github.com/brojonat/solwatch/service/scan"
	"github.com/brojonat/solwatch/service/tracker"
	"github.com/brojonat/solwatch/service/transport"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env if present, then validate configuration from environment
	_ = godotenv.Load()
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting watcher",
		"ws_url", cfg.SolanaWSURL,
		"rpc_url", cfg.SolanaRPCURL,
		"accounts", len(cfg.WatchAccounts),
		"mints", len(cfg.WatchMints),
		"programs", len(cfg.WatchPrograms),
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize NATS publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize the action executor over the Solana RPC client
	rpcClient := executor.NewSolanaClient(cfg.SolanaRPCURL, metricsCollector)
	exec := executor.New(rpcClient, executor.Options{
		MaxAttempts: cfg.ActionMaxAttempts,
		Backoff:     backoff.Policy{Base: cfg.ActionBaseBackoff, Cap: cfg.ActionMaxBackoff},
		CallTimeout: cfg.ActionCallTimeout,
		RateLimit:   cfg.RPCRateLimit,
		RateBurst:   cfg.RPCRateBurst,
	}, logger, metricsCollector)

	// Initialize the scan dealer rule
	dealer := scan.NewDealer(scan.Config{
		AlarmThresholdSOL: cfg.DealerAlarmThresholdSOL,
		MinBuySOL:         cfg.DealerMinBuySOL,
		Tolerance:         cfg.DealerTolerance,
		Window:            cfg.DealerWindow,
		CheckInterval:     cfg.DealerCheckInterval,
		MinRun:            cfg.DealerMinRun,
	}, natsPublisher, exec, logger, metricsCollector)

	// Dispatch pipeline: every change event goes to NATS and to the dealer
	handlers := []dispatch.Handler{
		natspkg.NewAccountEventHandler(natsPublisher),
		dealer,
	}
	dispatcher := dispatch.New(dispatch.Options{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
		Timeout:   cfg.DispatchTimeout,
	}, handlers, logger, metricsCollector)

	// State tracker feeds the dispatcher
	track := tracker.New(dispatcher, logger, metricsCollector)

	// Subscription transport
	conn := transport.New(transport.Options{
		Endpoint:      cfg.SolanaWSURL,
		Heartbeat:     cfg.HeartbeatInterval,
		Backoff:       backoff.Policy{Base: cfg.ReconnectBaseDelay, Cap: cfg.ReconnectMaxDelay},
		MaxReconnects: cfg.MaxReconnects,
		FrameBuffer:   cfg.FrameBuffer,
	}, logger, metricsCollector)

	// Register watch targets before the transport connects
	if err := registerWatches(ctx, cfg, conn, dealer, logger); err != nil {
		logger.Error("failed to register watch targets", "error", err)
		os.Exit(1)
	}

	// Start all pipeline stages
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("pipeline stage failed", "stage", name, "error", err)
				errs <- err
			}
		}()
	}

	start("transport", conn.Run)
	start("tracker", func(ctx context.Context) error { return track.Run(ctx, conn.Frames()) })
	start("dispatch", dispatcher.Run)
	start("dealer", dealer.Run)

	logger.Info("watcher running, all dependencies ready")

	// Wait for shutdown signal or stage error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-errs:
		exitCode = 1
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
	os.Exit(exitCode)
}

// registerWatches subscribes every configured account, mint curve, and
// program.
func registerWatches(ctx context.Context, cfg *config.Config, conn *transport.Transport, dealer *scan.Dealer, logger *slog.Logger) error {
	for _, addr := range cfg.WatchAccounts {
		key, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return err
		}
		if _, err := conn.Subscribe(ctx, transport.Filter{Kind: transport.FilterAccount, Key: key}); err != nil {
			return err
		}
	}

	for _, addr := range cfg.WatchMints {
		mint, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return err
		}
		curve, err := dealer.Track(mint)
		if err != nil {
			return err
		}
		if _, err := conn.Subscribe(ctx, transport.Filter{Kind: transport.FilterAccount, Key: curve}); err != nil {
			return err
		}
	}

	for _, addr := range cfg.WatchPrograms {
		key, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return err
		}
		if _, err := conn.Subscribe(ctx, transport.Filter{Kind: transport.FilterProgram, Key: key}); err != nil {
			return err
		}
	}

	logger.Info("watch targets registered",
		"accounts", len(cfg.WatchAccounts),
		"mints", len(cfg.WatchMints),
		"programs", len(cfg.WatchPrograms),
	)
	return nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
