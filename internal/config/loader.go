package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYBOT_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.ApiKey, "POLYBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYBOT_POLYMARKET_API_PASSPHRASE")
	setInt(&cfg.Polymarket.RequestsPerWindow, "POLYBOT_POLYMARKET_REQUESTS_PER_WINDOW")
	setDuration(&cfg.Polymarket.RequestWindow, "POLYBOT_POLYMARKET_REQUEST_WINDOW")

	// ── Database ──
	setStr(&cfg.Database.DSN, "POLYBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "POLYBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "POLYBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "POLYBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "POLYBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "POLYBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "POLYBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "POLYBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "POLYBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "POLYBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "POLYBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYBOT_REDIS_TLS_ENABLED")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinProfitPct, "POLYBOT_TRADING_MIN_PROFIT_PCT")
	setFloat64(&cfg.Trading.CostBuffer, "POLYBOT_TRADING_COST_BUFFER")
	setFloat64(&cfg.Trading.MaxPositionUSD, "POLYBOT_TRADING_MAX_POSITION_USD")
	setFloat64(&cfg.Trading.MaxTotalExposureUSD, "POLYBOT_TRADING_MAX_TOTAL_EXPOSURE_USD")
	setFloat64(&cfg.Trading.MaxDailyLossUSD, "POLYBOT_TRADING_MAX_DAILY_LOSS_USD")
	setDuration(&cfg.Trading.ScanInterval, "POLYBOT_TRADING_SCAN_INTERVAL")
	setDuration(&cfg.Trading.QuoteMaxAge, "POLYBOT_TRADING_QUOTE_MAX_AGE")
	setDuration(&cfg.Trading.MinTimeToClose, "POLYBOT_TRADING_MIN_TIME_TO_CLOSE")
	setDuration(&cfg.Trading.FillWait, "POLYBOT_TRADING_FILL_WAIT")
	setDuration(&cfg.Trading.PollInterval, "POLYBOT_TRADING_POLL_INTERVAL")
	setInt(&cfg.Trading.SubmitRetries, "POLYBOT_TRADING_SUBMIT_RETRIES")
	setDuration(&cfg.Trading.RetryBaseDelay, "POLYBOT_TRADING_RETRY_BASE_DELAY")
	setDuration(&cfg.Trading.RetryMaxDelay, "POLYBOT_TRADING_RETRY_MAX_DELAY")
	setInt(&cfg.Trading.UnwindRetries, "POLYBOT_TRADING_UNWIND_RETRIES")
	setDuration(&cfg.Trading.LockTTL, "POLYBOT_TRADING_LOCK_TTL")

	// ── Discovery ──
	setStringSlice(&cfg.Discovery.Assets, "POLYBOT_DISCOVERY_ASSETS")
	setDuration(&cfg.Discovery.RefreshInterval, "POLYBOT_DISCOVERY_REFRESH_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYBOT_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYBOT_SERVER_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYBOT_MODE")
	setStr(&cfg.LogLevel, "POLYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
