package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 0.025, cfg.Trading.MinProfitPct)
	assert.Equal(t, 50.0, cfg.Trading.MaxPositionUSD)
	assert.Equal(t, 100.0, cfg.Trading.MaxDailyLossUSD)
	assert.Equal(t, 500*time.Millisecond, cfg.Trading.ScanInterval.Duration)
	assert.Equal(t, []string{"BTC", "ETH", "XRP", "SOL"}, cfg.Discovery.Assets)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "paper"
log_level = "debug"

[trading]
min_profit_pct = 0.04
scan_interval = "250ms"
fill_wait = "4s"

[discovery]
assets = ["BTC", "ETH"]

[database]
dsn = "postgres://polybot:secret@db:5432/polybot"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 0.04, cfg.Trading.MinProfitPct)
	assert.Equal(t, 250*time.Millisecond, cfg.Trading.ScanInterval.Duration)
	assert.Equal(t, 4*time.Second, cfg.Trading.FillWait.Duration)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Discovery.Assets)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0.005, cfg.Trading.CostBuffer)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[redis]
addr = "redis-file:6379"
`)

	t.Setenv("POLYBOT_MODE", "paper")
	t.Setenv("POLYBOT_REDIS_ADDR", "redis-env:6379")
	t.Setenv("POLYBOT_TRADING_MAX_POSITION_USD", "25")
	t.Setenv("POLYBOT_TRADING_LOCK_TTL", "90s")
	t.Setenv("POLYBOT_DISCOVERY_ASSETS", "BTC, SOL")
	t.Setenv("POLYBOT_SERVER_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, "redis-env:6379", cfg.Redis.Addr)
	assert.Equal(t, 25.0, cfg.Trading.MaxPositionUSD)
	assert.Equal(t, 90*time.Second, cfg.Trading.LockTTL.Duration)
	assert.Equal(t, []string{"BTC", "SOL"}, cfg.Discovery.Assets)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Trading.MinProfitPct = 0
	cfg.Trading.MaxTotalExposureUSD = 10 // below max_position_usd
	cfg.Discovery.Assets = nil
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "min_profit_pct")
	assert.Contains(t, err.Error(), "max_total_exposure_usd")
	assert.Contains(t, err.Error(), "assets")
	assert.Contains(t, err.Error(), "server: port")
}

func TestValidateLiveModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api credentials are required for live mode")

	cfg.Polymarket.ApiKey = "k"
	cfg.Polymarket.ApiSecret = "s"
	cfg.Polymarket.ApiPassphrase = "p"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsPartialCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Polymarket.ApiKey = "k"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must all be set together")
}

func TestValidateLockTTLMustExceedFillWait(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.LockTTL = duration{5 * time.Second}
	cfg.Trading.FillWait = duration{8 * time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_ttl must exceed fill_wait")
}
