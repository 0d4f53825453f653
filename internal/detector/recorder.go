package detector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/notify"
)

// Recorder is the monitor-mode sink. It turns the stream of per-cycle
// candidates into opportunity episodes: one row per contiguous stretch during
// which a window's combined ask stayed below the qualifying threshold. The
// episode opens on first sight, tracks the best spread seen, and resolves on
// the first cycle where the window no longer qualifies.
type Recorder struct {
	store  domain.OpportunityStore
	bus    domain.SignalBus // optional
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	open map[string]*episodeState // keyed by window ID
}

type episodeState struct {
	id         int64
	bestSpread float64
}

func NewRecorder(store domain.OpportunityStore, bus domain.SignalBus, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "recorder")),
		now:    time.Now,
		open:   make(map[string]*episodeState),
	}
}

var _ Sink = (*Recorder)(nil)

// HandleCandidates reconciles the open episode set against one scan cycle.
// Windows present in the cycle are opened or extended; open windows absent
// from the cycle are resolved.
func (r *Recorder) HandleCandidates(ctx context.Context, cands []domain.OpportunityCandidate) {
	seen := make(map[string]struct{}, len(cands))
	for _, cand := range cands {
		seen[cand.WindowID] = struct{}{}
		r.observe(ctx, cand)
	}

	r.mu.Lock()
	var closed []string
	for windowID := range r.open {
		if _, ok := seen[windowID]; !ok {
			closed = append(closed, windowID)
		}
	}
	r.mu.Unlock()

	for _, windowID := range closed {
		r.resolve(ctx, windowID)
	}
}

func (r *Recorder) observe(ctx context.Context, cand domain.OpportunityCandidate) {
	r.mu.Lock()
	st, known := r.open[cand.WindowID]
	if known {
		if cand.ImpliedProfit > st.bestSpread {
			st.bestSpread = cand.ImpliedProfit
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ep := domain.OpportunityEpisode{
		WindowID:   cand.WindowID,
		Asset:      cand.Asset,
		YesAsk:     cand.YesAsk,
		NoAsk:      cand.NoAsk,
		Combined:   cand.CombinedCost,
		Spread:     cand.ImpliedProfit,
		BestSpread: cand.ImpliedProfit,
		DetectedAt: cand.DetectedAt,
	}
	id, err := r.store.Open(ctx, ep)
	if err != nil {
		r.logger.ErrorContext(ctx, "open episode failed",
			slog.String("window_id", cand.WindowID),
			slog.String("error", err.Error()),
		)
		return
	}

	r.mu.Lock()
	r.open[cand.WindowID] = &episodeState{id: id, bestSpread: cand.ImpliedProfit}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "opportunity opened",
		slog.Int64("episode_id", id),
		slog.String("window_id", cand.WindowID),
		slog.String("asset", cand.Asset),
		slog.Float64("combined", cand.CombinedCost),
		slog.Float64("spread", cand.ImpliedProfit),
	)
	r.publish(ctx, id, cand)
}

func (r *Recorder) resolve(ctx context.Context, windowID string) {
	r.mu.Lock()
	st, ok := r.open[windowID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.open, windowID)
	r.mu.Unlock()

	resolvedAt := r.now()
	if err := r.store.Resolve(ctx, st.id, resolvedAt, st.bestSpread); err != nil {
		r.logger.ErrorContext(ctx, "resolve episode failed",
			slog.Int64("episode_id", st.id),
			slog.String("window_id", windowID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.InfoContext(ctx, "opportunity resolved",
		slog.Int64("episode_id", st.id),
		slog.String("window_id", windowID),
		slog.Float64("best_spread", st.bestSpread),
	)
}

func (r *Recorder) publish(ctx context.Context, id int64, cand domain.OpportunityCandidate) {
	if r.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":          notify.EventOpportunityDetected,
		"episode_id":     id,
		"window_id":      cand.WindowID,
		"asset":          cand.Asset,
		"yes_ask":        cand.YesAsk,
		"no_ask":         cand.NoAsk,
		"combined":       cand.CombinedCost,
		"spread":         cand.ImpliedProfit,
		"size":           cand.Size,
		"time_to_close":  cand.TimeToClose.Seconds(),
	})
	if err := r.bus.Publish(ctx, "opportunities", evt); err != nil {
		r.logger.WarnContext(ctx, "publish opportunity failed",
			slog.String("window_id", cand.WindowID),
			slog.String("error", err.Error()),
		)
	}
}
