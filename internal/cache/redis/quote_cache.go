package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elcapitan88/polybot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each quote is
// stored at "quote:{windowID}:{side}" with a TTL, so external tooling reads
// the same top-of-book the in-process snapshot store holds without either
// depending on the other's uptime.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. ttl bounds how long a mirrored quote
// outlives its last update.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(windowID string, side domain.Side) string {
	return "quote:" + windowID + ":" + string(side)
}

// Set mirrors the latest quote for a (window, side).
func (qc *QuoteCache) Set(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.WindowID, q.Side)
	fields := map[string]interface{}{
		"bid":      strconv.FormatFloat(q.BestBid, 'f', -1, 64),
		"ask":      strconv.FormatFloat(q.BestAsk, 'f', -1, 64),
		"bid_size": strconv.FormatFloat(q.BidSize, 'f', -1, 64),
		"ask_size": strconv.FormatFloat(q.AskSize, 'f', -1, 64),
		"ts":       strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// Get retrieves the mirrored quote for a (window, side). It returns
// domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) Get(ctx context.Context, windowID string, side domain.Side) (domain.Quote, error) {
	key := quoteKey(windowID, side)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{WindowID: windowID, Side: side}
	if q.BestBid, err = parseField(vals, "bid"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", key, err)
	}
	if q.BestAsk, err = parseField(vals, "ask"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", key, err)
	}
	if q.BidSize, err = parseField(vals, "bid_size"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", key, err)
	}
	if q.AskSize, err = parseField(vals, "ask_size"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: %w", key, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s: parse ts: %w", key, err)
	}
	q.ObservedAt = time.Unix(0, tsNano).UTC()

	return q, nil
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
