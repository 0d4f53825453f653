package domain

import "time"

// AttemptState is the execution engine's state machine for one trade attempt.
//
//	Planned -> Submitting -> PartiallyFilled -> Hedged | Unwinding -> Closed | Failed
type AttemptState string

const (
	AttemptPlanned         AttemptState = "planned"
	AttemptSubmitting      AttemptState = "submitting"
	AttemptPartiallyFilled AttemptState = "partially_filled"
	AttemptHedged          AttemptState = "hedged"
	AttemptUnwinding       AttemptState = "unwinding"
	AttemptClosed          AttemptState = "closed"
	AttemptFailed          AttemptState = "failed"
)

// Terminal reports whether the state machine has finished.
func (s AttemptState) Terminal() bool {
	switch s {
	case AttemptHedged, AttemptClosed, AttemptFailed:
		return true
	}
	return false
}

// TradeRecord is the immutable ledger entry for one terminal execution
// attempt. The risk budget depends on these records never changing, so the
// ledger is append-only and offers no update or delete.
type TradeRecord struct {
	ID        string
	WindowID  string
	Asset     string
	Outcome   AttemptState // Hedged, Closed, or Failed
	YesQty    float64
	NoQty     float64
	YesPrice  float64 // average fill price, 0 if the leg never filled
	NoPrice   float64
	CostBasis float64

	// UnwindPrice is set when a filled leg was closed out (Outcome Closed).
	UnwindPrice *float64

	// RealizedPnL: for Hedged, locked spread realized at settlement; for
	// Closed, the bounded unwind loss (or residual hedged profit); zero for
	// a Failed attempt with nothing filled.
	RealizedPnL float64

	// ExposureUSD is the unresolved directional exposure left behind by a
	// Failed attempt. Non-zero values demand external remediation.
	ExposureUSD float64

	Note      string
	CreatedAt time.Time
}

// Exposed reports whether the record left unhedged inventory behind.
func (t TradeRecord) Exposed() bool {
	return t.Outcome == AttemptFailed && t.ExposureUSD > 0
}

// Position derives the holding this record left behind. Failed records with
// exposure stay Building: their unpaired leg is still on the book.
func (t TradeRecord) Position() Position {
	pos := Position{
		WindowID:  t.WindowID,
		Asset:     t.Asset,
		YesQty:    t.YesQty,
		NoQty:     t.NoQty,
		CostBasis: t.CostBasis,
		Status:    PositionBuilding,
		OpenedAt:  t.CreatedAt,
	}
	switch t.Outcome {
	case AttemptHedged:
		pos.Status = PositionHedged
	case AttemptClosed:
		pos.Status = PositionClosed
		closed := t.CreatedAt
		pos.ClosedAt = &closed
	}
	return pos
}
