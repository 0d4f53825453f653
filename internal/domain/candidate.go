package domain

import "time"

// OpportunityCandidate is an ephemeral trade proposal produced by the
// detector within one scan cycle. It is evaluated by the risk gate and then
// either promoted into an execution attempt or discarded; it is never
// persisted.
type OpportunityCandidate struct {
	WindowID      string
	Asset         string
	YesAsk        float64
	NoAsk         float64
	CombinedCost  float64
	ImpliedProfit float64
	Size          float64 // paired units, bounded by book depth and policy cap
	TimeToClose   time.Duration
	DetectedAt    time.Time
}

// NotionalUSD is the cash required to buy both legs at the quoted asks.
func (c OpportunityCandidate) NotionalUSD() float64 {
	return c.CombinedCost * c.Size
}

// ExpectedProfitUSD is the locked-in spread if both legs fill as quoted.
func (c OpportunityCandidate) ExpectedProfitUSD() float64 {
	return c.ImpliedProfit * c.Size
}

// OpportunityEpisode is the persisted record of one contiguous stretch during
// which a window's combined ask stayed below $1. Opened when the detector
// first qualifies the window, resolved when the spread closes.
type OpportunityEpisode struct {
	ID         int64
	WindowID   string
	Asset      string
	YesAsk     float64
	NoAsk      float64
	Combined   float64
	Spread     float64
	BestSpread float64
	DetectedAt time.Time
	ResolvedAt *time.Time
}
