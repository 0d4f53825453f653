package domain

import "time"

// RejectReason identifies which risk gate policy refused a candidate. The
// values are ordered by evaluation priority.
type RejectReason string

const (
	RejectDailyLossExhausted RejectReason = "daily_loss_exhausted"
	RejectTradeTooLarge      RejectReason = "trade_too_large"
	RejectExposureCap        RejectReason = "exposure_cap"
	RejectWindowBusy         RejectReason = "window_busy"
	RejectThinEdge           RejectReason = "thin_edge"
)

// RiskState is the process-wide risk ledger view. It is owned by the Ledger
// and mutated only through Ledger methods after fill confirmations; the risk
// gate reads it when admitting candidates.
type RiskState struct {
	DailyRealizedPnL float64
	MaxDailyLossUSD  float64
	OpenExposureUSD  float64 // USD value of non-hedged holdings
	OpenPositions    int     // count of non-hedged positions
	ResetAt          time.Time
}

// RemainingDailyLossBudget returns how much more the bot may lose today
// before the daily kill switch engages. Zero or negative means exhausted.
func (r RiskState) RemainingDailyLossBudget() float64 {
	loss := 0.0
	if r.DailyRealizedPnL < 0 {
		loss = -r.DailyRealizedPnL
	}
	return r.MaxDailyLossUSD - loss
}
