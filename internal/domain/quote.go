package domain

import "time"

// Side is one leg of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side of the pair.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Quote is the latest observed top-of-book for one side of a window.
// ObservedAt is the venue's observation timestamp, not our arrival time;
// the snapshot store compares it to resolve out-of-order delivery.
type Quote struct {
	WindowID   string
	Side       Side
	BestBid    float64
	BestAsk    float64
	BidSize    float64
	AskSize    float64
	ObservedAt time.Time
}

// Priced reports whether the quote carries a usable ask. Binary contract
// prices live strictly inside (0, 1); prices pinned to the extremes are
// settlement noise and are treated as unpriced.
func (q Quote) Priced() bool {
	return q.BestAsk > 0.01 && q.BestAsk < 0.99
}

// FreshAt reports whether the quote is younger than maxAge at the given
// instant.
func (q Quote) FreshAt(now time.Time, maxAge time.Duration) bool {
	return !q.ObservedAt.IsZero() && now.Sub(q.ObservedAt) <= maxAge
}

// QuotePair bundles the window with the latest YES and NO quotes for
// detector evaluation.
type QuotePair struct {
	Window MarketWindow
	Yes    Quote
	No     Quote
}

// CombinedAsk is the cost of buying one unit of each side at the current
// best asks.
func (p QuotePair) CombinedAsk() float64 {
	return p.Yes.BestAsk + p.No.BestAsk
}

// ImpliedProfit is the guaranteed spread per unit if both legs fill at the
// current asks: the pair settles to exactly $1.
func (p QuotePair) ImpliedProfit() float64 {
	return 1.0 - p.CombinedAsk()
}

// AvailableSize is the largest paired size the current asks can absorb.
func (p QuotePair) AvailableSize() float64 {
	if p.Yes.AskSize < p.No.AskSize {
		return p.Yes.AskSize
	}
	return p.No.AskSize
}

// FreshAt reports whether both sides are priced and fresh.
func (p QuotePair) FreshAt(now time.Time, maxAge time.Duration) bool {
	return p.Yes.Priced() && p.No.Priced() &&
		p.Yes.FreshAt(now, maxAge) && p.No.FreshAt(now, maxAge)
}
