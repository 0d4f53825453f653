// Package risk implements the pre-trade gate between the opportunity
// detector and the execution engine. Admission reserves exposure budget
// pessimistically so concurrent candidates cannot over-commit the book.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/elcapitan88/polybot/internal/domain"
)

// Config holds the gate's policy limits.
type Config struct {
	MaxTradeUSD         float64
	MaxTotalExposureUSD float64
	MinProfit           float64 // minimum implied profit after cost buffer
	CostBuffer          float64 // estimated slippage+fees, price units
}

// LedgerView is the read side of the ledger the gate consults.
type LedgerView interface {
	RemainingDailyLossBudget() float64
	CurrentOpenExposure() float64
}

// Admission is a candidate the gate accepted together with its exposure
// reservation. The engine must call Gate.Release for the window when the
// attempt reaches a terminal state.
type Admission struct {
	Candidate   domain.OpportunityCandidate
	ReservedUSD float64
}

// Rejection explains why a candidate was refused. Rejections are routine
// decisions, not faults.
type Rejection struct {
	Reason domain.RejectReason
	Detail string
}

// Error implements error so callers can thread rejections through error
// paths where convenient.
func (r *Rejection) Error() string {
	return fmt.Sprintf("risk: rejected (%s): %s", r.Reason, r.Detail)
}

// Gate applies the admission policy. All checks and the exposure reservation
// happen under one lock, so two concurrent Admit calls can never jointly
// exceed the exposure cap or double-book a window.
type Gate struct {
	cfg    Config
	ledger LedgerView
	logger *slog.Logger

	mu       sync.Mutex
	reserved float64            // sum of in-flight reservations
	inFlight map[string]float64 // windowID -> reserved USD
}

// NewGate creates a Gate reading risk state from the given ledger view.
func NewGate(cfg Config, ledger LedgerView, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:      cfg,
		ledger:   ledger,
		logger:   logger.With(slog.String("component", "risk_gate")),
		inFlight: make(map[string]float64),
	}
}

// Admit evaluates a candidate against the policy in fixed order:
//
//  1. daily loss budget exhausted
//  2. per-trade size above policy
//  3. total exposure cap would be exceeded
//  4. an execution is already in flight for the window
//  5. implied profit after the cost buffer below threshold
//
// On acceptance the candidate's notional is reserved immediately.
func (g *Gate) Admit(cand domain.OpportunityCandidate) (Admission, *Rejection) {
	notional := cand.NotionalUSD()

	g.mu.Lock()
	defer g.mu.Unlock()

	if budget := g.ledger.RemainingDailyLossBudget(); budget <= 0 {
		return Admission{}, g.reject(cand, domain.RejectDailyLossExhausted,
			fmt.Sprintf("budget %.2f", budget))
	}
	if notional > g.cfg.MaxTradeUSD {
		return Admission{}, g.reject(cand, domain.RejectTradeTooLarge,
			fmt.Sprintf("notional %.2f > max %.2f", notional, g.cfg.MaxTradeUSD))
	}
	committed := g.reserved + g.ledger.CurrentOpenExposure()
	if committed+notional > g.cfg.MaxTotalExposureUSD {
		return Admission{}, g.reject(cand, domain.RejectExposureCap,
			fmt.Sprintf("committed %.2f + %.2f > cap %.2f", committed, notional, g.cfg.MaxTotalExposureUSD))
	}
	if _, busy := g.inFlight[cand.WindowID]; busy {
		return Admission{}, g.reject(cand, domain.RejectWindowBusy, "execution in flight")
	}
	if net := cand.ImpliedProfit - g.cfg.CostBuffer; net < g.cfg.MinProfit {
		return Admission{}, g.reject(cand, domain.RejectThinEdge,
			fmt.Sprintf("net profit %.4f < min %.4f", net, g.cfg.MinProfit))
	}

	g.reserved += notional
	g.inFlight[cand.WindowID] = notional

	g.logger.Info("candidate admitted",
		slog.String("window", cand.WindowID),
		slog.Float64("implied_profit", cand.ImpliedProfit),
		slog.Float64("reserved_usd", notional),
	)
	return Admission{Candidate: cand, ReservedUSD: notional}, nil
}

// Release drops the reservation for a window once its execution attempt is
// terminal. Safe to call for windows with no reservation.
func (g *Gate) Release(windowID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if usd, ok := g.inFlight[windowID]; ok {
		g.reserved -= usd
		if g.reserved < 0 {
			g.reserved = 0
		}
		delete(g.inFlight, windowID)
	}
}

// ReservedUSD returns the sum of current reservations.
func (g *Gate) ReservedUSD() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved
}

// InFlight reports whether the window has a live reservation.
func (g *Gate) InFlight(windowID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[windowID]
	return ok
}

func (g *Gate) reject(cand domain.OpportunityCandidate, reason domain.RejectReason, detail string) *Rejection {
	g.logger.Debug("candidate rejected",
		slog.String("window", cand.WindowID),
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
	)
	return &Rejection{Reason: reason, Detail: detail}
}
