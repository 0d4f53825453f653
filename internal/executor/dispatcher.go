package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/risk"
)

// Dispatcher sits between the detector and the engine. Each scan cycle it
// walks the ranked candidates, asks the gate for admission, and runs every
// admitted candidate on its own goroutine. Rejections end here; they are
// routine and already logged by the gate.
type Dispatcher struct {
	gate   *risk.Gate
	engine *Engine
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher feeding admitted candidates into engine.
func NewDispatcher(gate *risk.Gate, engine *Engine, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gate:   gate,
		engine: engine,
		logger: logger.With(slog.String("component", "dispatcher")),
	}
}

// HandleCandidates implements detector.Sink. Candidates arrive highest
// priority first, so admission order follows the detector's ranking and the
// exposure budget goes to the best spreads.
func (d *Dispatcher) HandleCandidates(ctx context.Context, cands []domain.OpportunityCandidate) {
	for _, cand := range cands {
		adm, rej := d.gate.Admit(cand)
		if rej != nil {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if _, err := d.engine.Execute(ctx, adm); err != nil {
				d.logger.Warn("execution attempt aborted",
					slog.String("window", adm.Candidate.WindowID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

// Wait blocks until all in-flight execution attempts are terminal. Called on
// shutdown after the detector loop has stopped producing candidates.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
