package domain

import (
	"context"
	"time"
)

// TradeRecordStore persists terminal execution outcomes. Append-only: the
// interface deliberately offers no update or delete.
type TradeRecordStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	SumRealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// OpportunityStore persists opportunity episodes for offline analysis.
type OpportunityStore interface {
	Open(ctx context.Context, ep OpportunityEpisode) (int64, error)
	Resolve(ctx context.Context, id int64, resolvedAt time.Time, bestSpread float64) error
	ListRecent(ctx context.Context, limit int) ([]OpportunityEpisode, error)
}

// WindowStore persists discovered market windows.
type WindowStore interface {
	Upsert(ctx context.Context, w MarketWindow) error
	UpdateStatus(ctx context.Context, id string, status WindowStatus) error
	GetByID(ctx context.Context, id string) (MarketWindow, error)
	ListActive(ctx context.Context) ([]MarketWindow, error)
}
