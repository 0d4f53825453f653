// Package domain holds the core types shared by every layer of the bot:
// market windows, quotes, candidates, positions, trade records, and the
// store/cache/client interfaces implemented by the infrastructure packages.
package domain

import "time"

// WindowStatus represents the lifecycle state of a market window.
type WindowStatus string

const (
	WindowStatusPending WindowStatus = "pending"
	WindowStatusOpen    WindowStatus = "open"
	WindowStatusClosing WindowStatus = "closing"
	WindowStatusSettled WindowStatus = "settled"
)

// MarketWindow is one fixed 15-minute binary prediction market for a single
// crypto asset. Identity fields are immutable once created; only Status
// changes, driven by time and settlement events.
type MarketWindow struct {
	ID         string // condition ID on the venue
	Asset      string // "BTC", "ETH", "SOL", "XRP"
	Slug       string
	Question   string
	YesTokenID string
	NoTokenID  string
	OpenTime   time.Time
	CloseTime  time.Time
	Status     WindowStatus
}

// TimeToClose returns how long remains until the window closes. Negative if
// the close time has passed.
func (w MarketWindow) TimeToClose(now time.Time) time.Duration {
	return w.CloseTime.Sub(now)
}

// Tradeable reports whether the window accepts new entries at the given
// instant: status Open and the close time not yet reached.
func (w MarketWindow) Tradeable(now time.Time) bool {
	return w.Status == WindowStatusOpen && now.Before(w.CloseTime)
}

// TokenFor returns the token ID for the given side.
func (w MarketWindow) TokenFor(side Side) string {
	if side == SideYes {
		return w.YesTokenID
	}
	return w.NoTokenID
}
