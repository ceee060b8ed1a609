package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior;
// nothing is reloaded live.
type Config struct {
	// Logging and observability
	LogLevel    string
	MetricsAddr string

	// Solana endpoints
	SolanaRPCURL string
	SolanaWSURL  string

	// NATS configuration
	NATSURL string

	// Watch targets
	WatchAccounts []string // base58 account addresses to watch directly
	WatchMints    []string // mints whose bonding curves the scan dealer tracks
	WatchPrograms []string // program ids watched via programSubscribe

	// Subscription transport
	HeartbeatInterval  time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	MaxReconnects      int // 0 means unbounded
	FrameBuffer        int

	// Dispatch pipeline
	DispatchWorkers   int
	DispatchQueueSize int
	DispatchTimeout   time.Duration

	// Action executor
	ActionMaxAttempts int
	ActionBaseBackoff time.Duration
	ActionMaxBackoff  time.Duration
	ActionCallTimeout time.Duration
	RPCRateLimit      float64 // requests per second
	RPCRateBurst      int

	// Scan dealer strategy
	DealerAlarmThresholdSOL float64
	DealerMinBuySOL         float64
	DealerTolerance         float64
	DealerWindow            time.Duration
	DealerCheckInterval     time.Duration
	DealerMinRun            int
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is missing
// or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	} else if _, err := url.ParseRequestURI(cfg.SolanaRPCURL); err != nil {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL: invalid URL: %w", err))
	}

	cfg.SolanaWSURL = os.Getenv("SOLANA_WS_URL")
	if cfg.SolanaWSURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_WS_URL is required"))
	} else if u, err := url.ParseRequestURI(cfg.SolanaWSURL); err != nil {
		errs = append(errs, fmt.Errorf("SOLANA_WS_URL: invalid URL: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("SOLANA_WS_URL: scheme must be ws or wss, got %q", u.Scheme))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.WatchAccounts = splitList(os.Getenv("WATCH_ACCOUNTS"))
	cfg.WatchMints = splitList(os.Getenv("WATCH_MINTS"))
	cfg.WatchPrograms = splitList(os.Getenv("WATCH_PROGRAMS"))
	if len(cfg.WatchAccounts)+len(cfg.WatchMints)+len(cfg.WatchPrograms) == 0 {
		errs = append(errs, fmt.Errorf("at least one of WATCH_ACCOUNTS, WATCH_MINTS or WATCH_PROGRAMS is required"))
	}

	var err error
	if cfg.HeartbeatInterval, err = parseDuration("HEARTBEAT_INTERVAL", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReconnectBaseDelay, err = parseDuration("RECONNECT_BASE_DELAY", "500ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReconnectMaxDelay, err = parseDuration("RECONNECT_MAX_DELAY", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxReconnects, err = parseInt("MAX_RECONNECTS", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.FrameBuffer, err = parseInt("FRAME_BUFFER", 1024); err != nil {
		errs = append(errs, err)
	}

	if cfg.DispatchWorkers, err = parseInt("DISPATCH_WORKERS", 4); err != nil {
		errs = append(errs, err)
	}
	if cfg.DispatchQueueSize, err = parseInt("DISPATCH_QUEUE_SIZE", 256); err != nil {
		errs = append(errs, err)
	}
	if cfg.DispatchTimeout, err = parseDuration("DISPATCH_TIMEOUT", "10s"); err != nil {
		errs = append(errs, err)
	}

	if cfg.ActionMaxAttempts, err = parseInt("ACTION_MAX_ATTEMPTS", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.ActionBaseBackoff, err = parseDuration("ACTION_BASE_BACKOFF", "1s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ActionMaxBackoff, err = parseDuration("ACTION_MAX_BACKOFF", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ActionCallTimeout, err = parseDuration("ACTION_CALL_TIMEOUT", "10s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.RPCRateLimit, err = parseFloat("RPC_RATE_LIMIT", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.RPCRateBurst, err = parseInt("RPC_RATE_BURST", 20); err != nil {
		errs = append(errs, err)
	}

	if cfg.DealerAlarmThresholdSOL, err = parseFloat("DEALER_ALARM_THRESHOLD_SOL", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.DealerMinBuySOL, err = parseFloat("DEALER_MIN_BUY_SOL", 0.5); err != nil {
		errs = append(errs, err)
	}
	if cfg.DealerTolerance, err = parseFloat("DEALER_TOLERANCE", 0.15); err != nil {
		errs = append(errs, err)
	}
	if cfg.DealerWindow, err = parseDuration("DEALER_WINDOW", "5s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.DealerCheckInterval, err = parseDuration("DEALER_CHECK_INTERVAL", "1s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.DealerMinRun, err = parseInt("DEALER_MIN_RUN", 3); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for daemon initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints. This is useful for testing
// configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DispatchWorkers < 1 {
		errs = append(errs, fmt.Errorf("DispatchWorkers must be at least 1"))
	}
	if c.DispatchQueueSize < 1 {
		errs = append(errs, fmt.Errorf("DispatchQueueSize must be at least 1"))
	}
	if c.ActionMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("ActionMaxAttempts must be at least 1"))
	}
	if c.ActionBaseBackoff > c.ActionMaxBackoff {
		errs = append(errs, fmt.Errorf("ActionBaseBackoff (%v) cannot be greater than ActionMaxBackoff (%v)",
			c.ActionBaseBackoff, c.ActionMaxBackoff))
	}
	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		errs = append(errs, fmt.Errorf("ReconnectBaseDelay (%v) cannot be greater than ReconnectMaxDelay (%v)",
			c.ReconnectBaseDelay, c.ReconnectMaxDelay))
	}
	if c.MaxReconnects < 0 {
		errs = append(errs, fmt.Errorf("MaxReconnects cannot be negative"))
	}
	if c.DealerTolerance < 0 || c.DealerTolerance >= 1 {
		errs = append(errs, fmt.Errorf("DealerTolerance must be in [0, 1)"))
	}
	if c.DealerMinRun < 2 {
		errs = append(errs, fmt.Errorf("DealerMinRun must be at least 2"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated env value into trimmed non-empty items.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
