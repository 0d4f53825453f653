package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elcapitan88/polybot/internal/cache/redis"
	"github.com/elcapitan88/polybot/internal/config"
	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/notify"
	"github.com/elcapitan88/polybot/internal/platform/polymarket"
	"github.com/elcapitan88/polybot/internal/snapshot"
	"github.com/elcapitan88/polybot/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. Mode-specific
// pieces (order client, engine, detector sink) are assembled in modes.go.
type Dependencies struct {
	// Stores
	WindowStore      domain.WindowStore
	OpportunityStore domain.OpportunityStore
	TradeRecordStore domain.TradeRecordStore

	// Caches and coordination
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Venue clients
	Gamma *polymarket.GammaClient
	WS    *polymarket.WSClient

	// In-memory market state
	Snapshot *snapshot.Store

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations from config and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.WindowStore = postgres.NewWindowStore(pool)
	deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	deps.TradeRecordStore = postgres.NewTradeRecordStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	quoteTTL := 2 * cfg.Trading.QuoteMaxAge.Duration
	deps.QuoteCache = redis.NewQuoteCache(redisClient, quoteTTL)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Venue clients ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.WS = polymarket.NewWSClient(cfg.Polymarket.WsHost)

	// --- Snapshot store ---
	deps.Snapshot = snapshot.New(cfg.Trading.QuoteMaxAge.Duration)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// throttledOrderClient spends a distributed request budget before every order
// API call, so multiple bot processes sharing one API key stay inside the
// venue's rate limit together. The in-process limiter inside the CLOB client
// still smooths bursts within this process.
type throttledOrderClient struct {
	inner   domain.OrderClient
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

const orderBudgetKey = "clob:orders"

var _ domain.OrderClient = (*throttledOrderClient)(nil)

func (t *throttledOrderClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := t.limiter.Wait(ctx, orderBudgetKey, t.limit, t.window); err != nil {
		return "", fmt.Errorf("app: order budget: %w", err)
	}
	return t.inner.SubmitOrder(ctx, req)
}

func (t *throttledOrderClient) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	if err := t.limiter.Wait(ctx, orderBudgetKey, t.limit, t.window); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("app: order budget: %w", err)
	}
	return t.inner.OrderStatus(ctx, orderID)
}

func (t *throttledOrderClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := t.limiter.Wait(ctx, orderBudgetKey, t.limit, t.window); err != nil {
		return fmt.Errorf("app: order budget: %w", err)
	}
	return t.inner.CancelOrder(ctx, orderID)
}
