package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elcapitan88/polybot/internal/detector"
	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/executor"
	"github.com/elcapitan88/polybot/internal/feed"
	"github.com/elcapitan88/polybot/internal/ledger"
	"github.com/elcapitan88/polybot/internal/notify"
	"github.com/elcapitan88/polybot/internal/platform/paper"
	"github.com/elcapitan88/polybot/internal/platform/polymarket"
	"github.com/elcapitan88/polybot/internal/risk"
	"github.com/elcapitan88/polybot/internal/server"
)

// MonitorMode runs discovery, the market data feed, and the detector with a
// recording sink. No orders are ever placed; qualifying spreads are persisted
// as opportunity episodes.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	recorder := detector.NewRecorder(deps.OpportunityStore, deps.SignalBus, a.logger)
	det := detector.New(deps.Snapshot, a.detectorConfig(), recorder, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps)
	a.startServer(ctx, g, deps, nil)
	g.Go(func() error { return det.Run(ctx) })
	return g.Wait()
}

// PaperMode runs the full pipeline against the simulated order client, which
// fills orders from the live book snapshot without touching the venue.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	orders := paper.NewClient(deps.Snapshot, a.logger)
	return a.tradingMode(ctx, deps, orders)
}

// LiveMode runs the full pipeline against the CLOB with real credentials.
// Order API calls additionally draw on the shared Redis request budget so
// several processes on one key stay under the venue limit together.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	pm := a.cfg.Polymarket
	clob := polymarket.NewClobClient(pm.ClobHost, polymarket.Credentials{
		Key:        pm.ApiKey,
		Secret:     pm.ApiSecret,
		Passphrase: pm.ApiPassphrase,
	}, pm.RequestsPerWindow, pm.RequestWindow.Duration)

	orders := &throttledOrderClient{
		inner:   clob,
		limiter: deps.RateLimiter,
		limit:   pm.RequestsPerWindow,
		window:  pm.RequestWindow.Duration,
	}
	return a.tradingMode(ctx, deps, orders)
}

// tradingMode assembles the detection-to-execution pipeline shared by paper
// and live modes and blocks until shutdown. In-flight execution attempts are
// allowed to reach a terminal state before it returns.
func (a *App) tradingMode(ctx context.Context, deps *Dependencies, orders domain.OrderClient) error {
	trading := a.cfg.Trading

	led := ledger.New(ledger.Config{
		MaxDailyLossUSD: trading.MaxDailyLossUSD,
		OnDailyLossHalt: func(pnl float64) {
			msg := fmt.Sprintf("daily pnl $%.2f hit the $%.2f loss limit; no new attempts until the UTC reset",
				pnl, trading.MaxDailyLossUSD)
			if err := deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventDailyLossHalt, "Daily loss halt", msg); err != nil {
				a.logger.Warn("daily loss halt alert delivery failed", slog.String("error", err.Error()))
			}
		},
	}, deps.TradeRecordStore, a.logger)
	a.restoreDailyPnL(ctx, deps, led)

	gate := risk.NewGate(risk.Config{
		MaxTradeUSD:         trading.MaxPositionUSD,
		MaxTotalExposureUSD: trading.MaxTotalExposureUSD,
		MinProfit:           trading.MinProfitPct,
		CostBuffer:          trading.CostBuffer,
	}, led, a.logger)

	engine := executor.NewEngine(orders, deps.Snapshot, deps.LockManager, led, gate,
		deps.Notifier, deps.SignalBus, executor.Config{
			FillWait:       trading.FillWait.Duration,
			PollInterval:   trading.PollInterval.Duration,
			SubmitRetries:  trading.SubmitRetries,
			RetryBaseDelay: trading.RetryBaseDelay.Duration,
			RetryMaxDelay:  trading.RetryMaxDelay.Duration,
			UnwindRetries:  trading.UnwindRetries,
			MinProfit:      trading.MinProfitPct,
			CostBuffer:     trading.CostBuffer,
			LockTTL:        trading.LockTTL.Duration,
		}, a.logger)

	dispatcher := executor.NewDispatcher(gate, engine, a.logger)
	recorder := detector.NewRecorder(deps.OpportunityStore, deps.SignalBus, a.logger)
	det := detector.New(deps.Snapshot, a.detectorConfig(), fanoutSink{recorder, dispatcher}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps)
	a.startServer(ctx, g, deps, led)
	g.Go(func() error { return det.Run(ctx) })
	g.Go(func() error { return a.runDailyLoop(ctx, deps, led) })
	g.Go(func() error { return a.runControlListener(ctx, deps, led) })

	err := g.Wait()
	a.logger.Info("waiting for in-flight attempts to settle")
	dispatcher.Wait()
	return err
}

// startFeeds registers the discovery and ingestion goroutines every mode
// needs: the WebSocket book feed into the snapshot store, and the Gamma
// window discovery loop that keeps the tracked set current.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	ingestor := feed.NewIngestor(deps.WS, deps.Snapshot, deps.QuoteCache, a.logger)
	discovery := feed.NewDiscovery(deps.Gamma, deps.WS, deps.Snapshot, deps.WindowStore,
		feed.DiscoveryConfig{
			Assets:          a.cfg.Discovery.Assets,
			RefreshInterval: a.cfg.Discovery.RefreshInterval.Duration,
		}, a.logger)

	g.Go(func() error { return ingestor.Run(ctx) })
	g.Go(func() error { return discovery.Run(ctx) })
}

// startServer registers the operational HTTP API goroutine when enabled.
// led is nil in monitor mode, where the status endpoint has no trading block.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, led server.LedgerView) {
	if !a.cfg.Server.Enabled {
		return
	}
	srv := server.New(server.Config{Port: a.cfg.Server.Port}, server.Deps{
		Mode:          a.cfg.Mode,
		Snapshot:      deps.Snapshot,
		Ledger:        led,
		Quotes:        deps.QuoteCache,
		Windows:       deps.WindowStore,
		Opportunities: deps.OpportunityStore,
		Trades:        deps.TradeRecordStore,
		StartedAt:     time.Now().UTC(),
	}, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

func (a *App) detectorConfig() detector.Config {
	trading := a.cfg.Trading
	return detector.Config{
		// The gate tests net edge (profit minus buffer) against the minimum;
		// pre-filter on the same bar so rejections stay exceptional.
		MinProfit:      trading.MinProfitPct + trading.CostBuffer,
		MinTimeToClose: trading.MinTimeToClose.Duration,
		MaxTradeUSD:    trading.MaxPositionUSD,
		ScanInterval:   trading.ScanInterval.Duration,
	}
}

// restoreDailyPnL seeds the ledger from persisted records so a restart
// mid-day cannot reopen a spent loss budget.
func (a *App) restoreDailyPnL(ctx context.Context, deps *Dependencies, led *ledger.Ledger) {
	since := startOfDayUTC(time.Now().UTC())
	pnl, err := deps.TradeRecordStore.SumRealizedPnL(ctx, since)
	if err != nil {
		a.logger.WarnContext(ctx, "daily pnl restore failed, starting from zero",
			slog.String("error", err.Error()),
		)
		return
	}
	if pnl != 0 {
		led.RestoreDailyPnL(pnl)
		a.logger.InfoContext(ctx, "daily pnl restored", slog.Float64("pnl", pnl))
	}
}

// statusLogInterval is the cadence of the operational stats log line.
const statusLogInterval = 10 * time.Minute

// runDailyLoop logs a periodic status line, and at each UTC midnight sends a
// summary and resets the daily risk counters.
func (a *App) runDailyLoop(ctx context.Context, deps *Dependencies, led *ledger.Ledger) error {
	status := time.NewTicker(statusLogInterval)
	defer status.Stop()

	for {
		now := time.Now().UTC()
		timer := time.NewTimer(startOfDayUTC(now).Add(24 * time.Hour).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-status.C:
			timer.Stop()
			stats := led.Snapshot()
			a.logger.InfoContext(ctx, "status",
				slog.Int("hedged", stats.Hedged),
				slog.Int("closed", stats.Closed),
				slog.Int("failed", stats.Failed),
				slog.Int("failed_exposed", stats.FailedExposed),
				slog.Float64("realized_pnl", stats.RealizedPnL),
				slog.Float64("daily_pnl", led.RiskState().DailyRealizedPnL),
				slog.Float64("open_exposure_usd", led.CurrentOpenExposure()),
			)
		case boundary := <-timer.C:
			stats := led.Snapshot()
			daily := led.RiskState().DailyRealizedPnL
			msg := fmt.Sprintf(
				"daily pnl: $%.2f\ntotals: %d hedged, %d closed, %d failed (%d exposed), $%.2f realized",
				daily, stats.Hedged, stats.Closed, stats.Failed, stats.FailedExposed, stats.RealizedPnL,
			)
			for _, pos := range led.OpenExposedPositions() {
				msg += fmt.Sprintf("\nSTILL EXPOSED: %s (%s), %.2f unpaired",
					pos.WindowID, pos.Asset, pos.NetExposureQty())
			}
			if err := deps.Notifier.Notify(ctx, notify.EventDailySummary, "Daily summary", msg); err != nil {
				a.logger.WarnContext(ctx, "daily summary delivery failed",
					slog.String("error", err.Error()),
				)
			}
			led.ResetDaily(boundary.UTC())
		}
	}
}

// runControlListener applies operator commands published on the signal bus.
// The only command today is exposure resolution, sent after a stranded leg
// has been closed out manually.
func (a *App) runControlListener(ctx context.Context, deps *Dependencies, led *ledger.Ledger) error {
	ch, err := deps.SignalBus.Subscribe(ctx, "control")
	if err != nil {
		return fmt.Errorf("app: subscribe control channel: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var cmd struct {
				Command     string  `json:"command"`
				WindowID    string  `json:"window_id"`
				RealizedPnL float64 `json:"realized_pnl"`
			}
			if err := json.Unmarshal(payload, &cmd); err != nil {
				a.logger.WarnContext(ctx, "bad control message", slog.String("error", err.Error()))
				continue
			}
			switch cmd.Command {
			case "resolve_exposure":
				led.ResolveExposure(cmd.WindowID, cmd.RealizedPnL)
			default:
				a.logger.WarnContext(ctx, "unknown control command", slog.String("command", cmd.Command))
			}
		}
	}
}

func startOfDayUTC(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// fanoutSink delivers each scan cycle to every sink in order, so trading
// modes both record episodes and dispatch executions from one detector.
type fanoutSink []detector.Sink

func (f fanoutSink) HandleCandidates(ctx context.Context, cands []domain.OpportunityCandidate) {
	for _, s := range f {
		s.HandleCandidates(ctx, cands)
	}
}
