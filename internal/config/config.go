// Package config defines the top-level configuration for the polybot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYBOT_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Trading    TradingConfig    `toml:"trading"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	// RequestsPerWindow / RequestWindow bound outbound CLOB request rate.
	RequestsPerWindow int      `toml:"requests_per_window"`
	RequestWindow     duration `toml:"request_window"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// TradingConfig holds detection and execution policy parameters.
type TradingConfig struct {
	// MinProfitPct is the minimum implied profit per paired unit, in price
	// units, after the cost buffer.
	MinProfitPct float64 `toml:"min_profit_pct"`
	// CostBuffer estimates slippage and fees per paired unit, price units.
	CostBuffer float64 `toml:"cost_buffer"`
	// MaxPositionUSD caps the notional of a single paired trade.
	MaxPositionUSD float64 `toml:"max_position_usd"`
	// MaxTotalExposureUSD caps committed notional across all open attempts.
	MaxTotalExposureUSD float64 `toml:"max_total_exposure_usd"`
	// MaxDailyLossUSD halts new admissions once realized losses reach it.
	MaxDailyLossUSD float64 `toml:"max_daily_loss_usd"`

	ScanInterval   duration `toml:"scan_interval"`
	QuoteMaxAge    duration `toml:"quote_max_age"`
	MinTimeToClose duration `toml:"min_time_to_close"`

	FillWait       duration `toml:"fill_wait"`
	PollInterval   duration `toml:"poll_interval"`
	SubmitRetries  int      `toml:"submit_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	RetryMaxDelay  duration `toml:"retry_max_delay"`
	UnwindRetries  int      `toml:"unwind_retries"`
	LockTTL        duration `toml:"lock_ttl"`
}

// DiscoveryConfig holds market discovery parameters.
type DiscoveryConfig struct {
	// Assets lists the underlying symbols whose 15-minute windows to track.
	Assets          []string `toml:"assets"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the operational HTTP API parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:          "https://clob.polymarket.com",
			GammaHost:         "https://gamma-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com",
			RequestsPerWindow: 10,
			RequestWindow:     duration{time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Trading: TradingConfig{
			MinProfitPct:        0.025,
			CostBuffer:          0.005,
			MaxPositionUSD:      50,
			MaxTotalExposureUSD: 250,
			MaxDailyLossUSD:     100,
			ScanInterval:        duration{500 * time.Millisecond},
			QuoteMaxAge:         duration{5 * time.Second},
			MinTimeToClose:      duration{90 * time.Second},
			FillWait:            duration{8 * time.Second},
			PollInterval:        duration{250 * time.Millisecond},
			SubmitRetries:       4,
			RetryBaseDelay:      duration{200 * time.Millisecond},
			RetryMaxDelay:       duration{2 * time.Second},
			UnwindRetries:       5,
			LockTTL:             duration{60 * time.Second},
		},
		Discovery: DiscoveryConfig{
			Assets:          []string{"BTC", "ETH", "XRP", "SOL"},
			RefreshInterval: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_detected", "attempt_hedged", "attempt_failed_exposed", "daily_summary", "daily_loss_halt"},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"paper":   true,
	"live":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.RequestsPerWindow < 1 {
		errs = append(errs, "polymarket: requests_per_window must be >= 1")
	}

	// All three credentials must be set together, and live mode needs them.
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if ak || as || ap {
		if !(ak && as && ap) {
			errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
		}
	}
	if strings.ToLower(c.Mode) == "live" && !ak {
		errs = append(errs, "polymarket: api credentials are required for live mode")
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Trading
	if c.Trading.MinProfitPct <= 0 {
		errs = append(errs, "trading: min_profit_pct must be > 0")
	}
	if c.Trading.CostBuffer < 0 {
		errs = append(errs, "trading: cost_buffer must be >= 0")
	}
	if c.Trading.MaxPositionUSD <= 0 {
		errs = append(errs, "trading: max_position_usd must be > 0")
	}
	if c.Trading.MaxTotalExposureUSD < c.Trading.MaxPositionUSD {
		errs = append(errs, "trading: max_total_exposure_usd must be >= max_position_usd")
	}
	if c.Trading.MaxDailyLossUSD <= 0 {
		errs = append(errs, "trading: max_daily_loss_usd must be > 0")
	}
	if c.Trading.ScanInterval.Duration <= 0 {
		errs = append(errs, "trading: scan_interval must be > 0")
	}
	if c.Trading.QuoteMaxAge.Duration <= 0 {
		errs = append(errs, "trading: quote_max_age must be > 0")
	}
	if c.Trading.FillWait.Duration <= 0 {
		errs = append(errs, "trading: fill_wait must be > 0")
	}
	if c.Trading.SubmitRetries < 1 {
		errs = append(errs, "trading: submit_retries must be >= 1")
	}
	if c.Trading.UnwindRetries < 1 {
		errs = append(errs, "trading: unwind_retries must be >= 1")
	}
	if c.Trading.LockTTL.Duration <= c.Trading.FillWait.Duration {
		errs = append(errs, "trading: lock_ttl must exceed fill_wait")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Discovery
	if len(c.Discovery.Assets) == 0 {
		errs = append(errs, "discovery: assets must not be empty")
	}
	if c.Discovery.RefreshInterval.Duration <= 0 {
		errs = append(errs, "discovery: refresh_interval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
