// Package ledger records terminal execution outcomes and owns the
// process-wide risk state. Records are append-only; the risk gate's budget
// math depends on history never being rewritten.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
)

// Config holds the ledger's risk parameters.
type Config struct {
	MaxDailyLossUSD float64

	// OnDailyLossHalt is invoked once per trading day, the first time the
	// realized loss spends the whole daily budget. Called on its own
	// goroutine with the daily P&L at the crossing. May be nil.
	OnDailyLossHalt func(dailyPnL float64)
}

// Ledger is the position & P&L ledger. All RiskState mutation happens here,
// after a terminal outcome is reported by the execution engine.
type Ledger struct {
	mu      sync.Mutex
	cfg     Config
	records []domain.TradeRecord
	// remediated marks exposed records whose stranded leg has since been
	// closed out externally.
	remediated map[string]bool
	risk       domain.RiskState
	store      domain.TradeRecordStore // optional persistence
	logger     *slog.Logger

	// haltFired latches the daily-loss alert until the next reset.
	haltFired bool

	stats Stats
}

// Stats is a point-in-time operational summary.
type Stats struct {
	Hedged        int
	Closed        int
	Failed        int
	FailedExposed int
	RealizedPnL   float64
}

// New creates a Ledger. store may be nil; persistence failures are logged
// and never block risk accounting.
func New(cfg Config, store domain.TradeRecordStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		cfg:        cfg,
		remediated: make(map[string]bool),
		store:      store,
		logger:     logger.With(slog.String("component", "ledger")),
		risk: domain.RiskState{
			MaxDailyLossUSD: cfg.MaxDailyLossUSD,
			ResetAt:         time.Now().UTC(),
		},
	}
}

// Record appends a terminal trade record and folds it into the risk state.
// Only terminal outcomes are accepted; anything else is a programming error
// on the caller's side and is dropped with a log.
func (l *Ledger) Record(ctx context.Context, rec domain.TradeRecord) {
	if !rec.Outcome.Terminal() {
		l.logger.ErrorContext(ctx, "non-terminal outcome reported to ledger",
			slog.String("window", rec.WindowID),
			slog.String("outcome", string(rec.Outcome)),
		)
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.risk.DailyRealizedPnL += rec.RealizedPnL
	switch rec.Outcome {
	case domain.AttemptHedged:
		l.stats.Hedged++
	case domain.AttemptClosed:
		l.stats.Closed++
	case domain.AttemptFailed:
		l.stats.Failed++
		if rec.ExposureUSD > 0 {
			l.stats.FailedExposed++
			l.risk.OpenExposureUSD += rec.ExposureUSD
			l.risk.OpenPositions++
		}
	}
	l.stats.RealizedPnL += rec.RealizedPnL
	l.checkDailyHaltLocked()
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "trade recorded",
		slog.String("window", rec.WindowID),
		slog.String("outcome", string(rec.Outcome)),
		slog.Float64("pnl", rec.RealizedPnL),
		slog.Float64("exposure_usd", rec.ExposureUSD),
	)

	if l.store != nil {
		if err := l.store.Insert(ctx, rec); err != nil {
			l.logger.WarnContext(ctx, "trade record persistence failed",
				slog.String("window", rec.WindowID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ResolveExposure clears previously recorded unresolved exposure once the
// leg has been remediated externally (manual close or settlement).
func (l *Ledger) ResolveExposure(windowID string, realizedPnL float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		rec := l.records[i]
		if rec.WindowID == windowID && rec.Exposed() && !l.remediated[rec.ID] {
			l.remediated[rec.ID] = true
			l.risk.OpenExposureUSD -= rec.ExposureUSD
			if l.risk.OpenExposureUSD < 0 {
				l.risk.OpenExposureUSD = 0
			}
			if l.risk.OpenPositions > 0 {
				l.risk.OpenPositions--
			}
			l.risk.DailyRealizedPnL += realizedPnL
			l.checkDailyHaltLocked()
			l.logger.Info("exposure resolved",
				slog.String("window", windowID),
				slog.Float64("realized_pnl", realizedPnL),
			)
			return
		}
	}
	l.logger.Warn("exposure resolution for unknown window", slog.String("window", windowID))
}

// OpenExposedPositions lists the stranded holdings behind Failed records that
// have not been remediated yet. Used for operator reporting.
func (l *Ledger) OpenExposedPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Position
	for _, rec := range l.records {
		if rec.Exposed() && !l.remediated[rec.ID] {
			out = append(out, rec.Position())
		}
	}
	return out
}

// RestoreDailyPnL seeds today's realized P&L from persisted records, so a
// restart does not reset the daily loss guard.
func (l *Ledger) RestoreDailyPnL(pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.risk.DailyRealizedPnL = pnl
	l.checkDailyHaltLocked()
}

// ResetDaily zeroes the daily P&L counter. Invoked by an external scheduler
// at the configured daily boundary.
func (l *Ledger) ResetDaily(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Info("daily risk counters reset",
		slog.Float64("closing_pnl", l.risk.DailyRealizedPnL),
	)
	l.risk.DailyRealizedPnL = 0
	l.risk.ResetAt = now
	l.haltFired = false
}

// checkDailyHaltLocked fires the daily-loss-halt hook the first time the
// loss budget reaches zero. Caller must hold l.mu; the callback runs on its
// own goroutine so alert delivery never blocks risk accounting.
func (l *Ledger) checkDailyHaltLocked() {
	if l.haltFired || l.risk.RemainingDailyLossBudget() > 0 {
		return
	}
	l.haltFired = true
	pnl := l.risk.DailyRealizedPnL
	l.logger.Warn("daily loss budget exhausted, new admissions halt",
		slog.Float64("daily_pnl", pnl),
		slog.Float64("max_daily_loss_usd", l.cfg.MaxDailyLossUSD),
	)
	if cb := l.cfg.OnDailyLossHalt; cb != nil {
		go cb(pnl)
	}
}

// RemainingDailyLossBudget returns today's remaining loss allowance.
func (l *Ledger) RemainingDailyLossBudget() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.risk.RemainingDailyLossBudget()
}

// CurrentOpenExposure returns the USD value of unresolved directional
// exposure left behind by failed attempts.
func (l *Ledger) CurrentOpenExposure() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.risk.OpenExposureUSD
}

// RiskState returns a copy of the current risk state.
func (l *Ledger) RiskState() domain.RiskState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.risk
}

// Records returns a copy of all recorded trades, oldest first.
func (l *Ledger) Records() []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Snapshot returns the operational counters.
func (l *Ledger) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
