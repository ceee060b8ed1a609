package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com")
	t.Setenv("WATCH_ACCOUNTS", "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, 0, cfg.MaxReconnects) // unbounded
	assert.Equal(t, 4, cfg.DispatchWorkers)
	assert.Equal(t, 256, cfg.DispatchQueueSize)
	assert.Equal(t, 3, cfg.ActionMaxAttempts)
	assert.Equal(t, 0.15, cfg.DealerTolerance)
	assert.Equal(t, 3, cfg.DealerMinRun)
}

func TestLoad_MissingRPCURL(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "")
	t.Setenv("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com")
	t.Setenv("WATCH_ACCOUNTS", "x")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL")
}

func TestLoad_BadWSScheme(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SOLANA_WS_URL", "https://api.mainnet-beta.solana.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be ws or wss")
}

func TestLoad_NoWatchTargets(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("SOLANA_WS_URL", "wss://api.mainnet-beta.solana.com")
	t.Setenv("WATCH_ACCOUNTS", "")
	t.Setenv("WATCH_MINTS", "")
	t.Setenv("WATCH_PROGRAMS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WATCH_ACCOUNTS")
}

func TestLoad_ListParsing(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WATCH_MINTS", " mintA , mintB ,,mintC ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"mintA", "mintB", "mintC"}, cfg.WatchMints)
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_TIMEOUT", "never")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCH_TIMEOUT")
}

func TestValidate_CrossFieldConstraints(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.ActionBaseBackoff = time.Minute
	cfg.ActionMaxBackoff = time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ActionBaseBackoff")
}

func TestValidate_DealerBounds(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DealerTolerance = 1.5
	require.Error(t, cfg.Validate())

	cfg.DealerTolerance = 0.15
	cfg.DealerMinRun = 1
	require.Error(t, cfg.Validate())
}
