// Package feed connects the venue's market data to the in-process snapshot
// store: discovery decides which windows to watch, the ingestor keeps their
// top-of-book current.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/platform/polymarket"
	"github.com/elcapitan88/polybot/internal/snapshot"
)

// cacheWriteTimeout bounds the optional quote mirror write so a slow Redis
// never backpressures the feed.
const cacheWriteTimeout = 2 * time.Second

// Ingestor translates book snapshots from the WebSocket into quotes and
// writes them into the snapshot store. Stale frames lose to the store's
// observation-timestamp rule, so delivery order does not matter here.
type Ingestor struct {
	ws     *polymarket.WSClient
	store  *snapshot.Store
	cache  domain.QuoteCache // optional
	logger *slog.Logger
}

// NewIngestor creates an Ingestor and registers its book handler on ws.
// cache may be nil.
func NewIngestor(ws *polymarket.WSClient, store *snapshot.Store, cache domain.QuoteCache, logger *slog.Logger) *Ingestor {
	in := &Ingestor{
		ws:     ws,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "feed_ingestor")),
	}
	ws.OnBookUpdate(in.handleBook)
	return in
}

// Run connects the WebSocket and blocks until the context is cancelled, then
// shuts the connection down.
func (in *Ingestor) Run(ctx context.Context) error {
	if err := in.ws.Connect(ctx); err != nil {
		return err
	}
	in.logger.Info("market data feed connected")

	<-ctx.Done()
	return in.ws.Close()
}

func (in *Ingestor) handleBook(top polymarket.BookTop) {
	windowID, side, ok := in.store.Resolve(top.TokenID)
	if !ok {
		// Unsubscribe races a final frame after a window is dropped.
		return
	}

	q := domain.Quote{
		WindowID:   windowID,
		Side:       side,
		BestBid:    top.BestBid,
		BestAsk:    top.BestAsk,
		BidSize:    top.BidSize,
		AskSize:    top.AskSize,
		ObservedAt: top.ObservedAt,
	}

	if !in.store.Update(q) {
		return
	}

	if in.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := in.cache.Set(ctx, q); err != nil {
			in.logger.Debug("quote mirror write failed",
				slog.String("window", windowID),
				slog.String("error", err.Error()),
			)
		}
	}
}
