// Package detector evaluates snapshot quotes against the pricing invariant
// of binary pairs (YES + NO settles to $1) and produces ranked opportunity
// candidates for the risk gate.
package detector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/snapshot"
)

// Config holds detection thresholds.
type Config struct {
	// MinProfit is the minimum implied profit per unit (price units).
	MinProfit float64
	// MinTimeToClose skips windows near settlement, where books go illiquid.
	MinTimeToClose time.Duration
	// MaxTradeUSD caps the candidate size so one trade never proposes more
	// than the per-trade policy allows.
	MaxTradeUSD float64
	// ScanInterval is the cadence of Run's scan ticks.
	ScanInterval time.Duration
}

// Sink consumes one scan cycle's candidates, highest priority first.
type Sink interface {
	HandleCandidates(ctx context.Context, cands []domain.OpportunityCandidate)
}

// Detector scans the snapshot store on a fixed interval. Ranking is greedy:
// real-time decisions cannot wait for a global allocation solve.
type Detector struct {
	store  *snapshot.Store
	cfg    Config
	sink   Sink
	logger *slog.Logger

	now func() time.Time // injectable clock for tests
}

// New creates a Detector feeding candidates into sink.
func New(store *snapshot.Store, cfg Config, sink Sink, logger *slog.Logger) *Detector {
	return &Detector{
		store:  store,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "detector")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate derives a candidate from a fresh quote pair. It returns false when
// the window is not tradeable, too close to settlement, or the spread does
// not clear the minimum profit threshold.
func (d *Detector) Evaluate(pair domain.QuotePair, now time.Time) (domain.OpportunityCandidate, bool) {
	w := pair.Window
	if !w.Tradeable(now) {
		return domain.OpportunityCandidate{}, false
	}
	ttc := w.TimeToClose(now)
	if ttc < d.cfg.MinTimeToClose {
		return domain.OpportunityCandidate{}, false
	}

	combined := pair.CombinedAsk()
	profit := pair.ImpliedProfit()
	if profit < d.cfg.MinProfit {
		return domain.OpportunityCandidate{}, false
	}

	size := pair.AvailableSize()
	if combined > 0 {
		if policyCap := d.cfg.MaxTradeUSD / combined; policyCap < size {
			size = policyCap
		}
	}
	if size <= 0 {
		return domain.OpportunityCandidate{}, false
	}

	return domain.OpportunityCandidate{
		WindowID:      w.ID,
		Asset:         w.Asset,
		YesAsk:        pair.Yes.BestAsk,
		NoAsk:         pair.No.BestAsk,
		CombinedCost:  combined,
		ImpliedProfit: profit,
		Size:          size,
		TimeToClose:   ttc,
		DetectedAt:    now,
	}, true
}

// Scan evaluates every fresh pair once and returns the qualifying candidates
// ranked by descending implied profit, then ascending time-to-close (prefer
// not to leave capital committed near settlement).
func (d *Detector) Scan(now time.Time) []domain.OpportunityCandidate {
	pairs := d.store.FreshPairs(now)
	cands := make([]domain.OpportunityCandidate, 0, len(pairs))
	for _, pair := range pairs {
		if cand, ok := d.Evaluate(pair, now); ok {
			cands = append(cands, cand)
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].ImpliedProfit != cands[j].ImpliedProfit {
			return cands[i].ImpliedProfit > cands[j].ImpliedProfit
		}
		return cands[i].TimeToClose < cands[j].TimeToClose
	})
	return cands
}

// Run scans on the configured interval until the context is cancelled,
// handing every cycle to the sink in priority order. Empty cycles are
// delivered too so sinks can observe spreads closing.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started",
		slog.Duration("scan_interval", d.cfg.ScanInterval),
		slog.Float64("min_profit", d.cfg.MinProfit),
	)
	defer d.logger.Info("detector stopped")

	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := d.now()
			cands := d.Scan(now)
			if len(cands) > 0 {
				d.logger.Debug("scan cycle produced candidates",
					slog.Int("count", len(cands)),
				)
			}
			d.sink.HandleCandidates(ctx, cands)
		}
	}
}
