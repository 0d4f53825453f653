// Package paper implements a simulated order client that fills orders
// against the live snapshot store. Paper mode runs the full detection and
// execution pipeline with venue writes swapped out.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elcapitan88/polybot/internal/domain"
	"github.com/elcapitan88/polybot/internal/snapshot"
)

// Client simulates the CLOB against current snapshot quotes. A buy fills
// immediately when its limit price crosses the best ask, a sell when it
// crosses the best bid; everything else rests open until cancelled. Fills
// execute at the market's price, not the limit, mirroring a taker order.
type Client struct {
	store  *snapshot.Store
	logger *slog.Logger

	mu     sync.Mutex
	orders map[string]domain.OrderStatus

	now func() time.Time
}

// NewClient creates a paper trading client reading market state from store.
func NewClient(store *snapshot.Store, logger *slog.Logger) *Client {
	return &Client{
		store:  store,
		logger: logger.With(slog.String("component", "paper")),
		orders: make(map[string]domain.OrderStatus),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SubmitOrder simulates order placement.
func (c *Client) SubmitOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	windowID, side, ok := c.store.Resolve(req.TokenID)
	if !ok {
		return "", fmt.Errorf("paper: submit: unknown token %s: %w", req.TokenID, domain.ErrOrderRejected)
	}

	st := domain.OrderStatus{
		OrderID:       uuid.New().String(),
		RemainingSize: req.Size,
		State:         domain.OrderOpen,
	}

	if price, size, ok := c.crossingPrice(windowID, side, req); ok {
		filled := req.Size
		if size < filled {
			filled = size
		}
		st.FilledSize = filled
		st.RemainingSize = req.Size - filled
		st.AvgFillPrice = price
		if st.RemainingSize <= 0 {
			st.State = domain.OrderFilled
		}
	}

	c.mu.Lock()
	c.orders[st.OrderID] = st
	c.mu.Unlock()

	c.logger.Debug("paper order",
		slog.String("order_id", st.OrderID),
		slog.String("window", windowID),
		slog.String("side", string(req.Side)),
		slog.Float64("limit", req.Price),
		slog.Float64("filled", st.FilledSize),
	)
	return st.OrderID, nil
}

// OrderStatus returns the simulated order state.
func (c *Client) OrderStatus(_ context.Context, orderID string) (domain.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrNotFound
	}
	return st, nil
}

// CancelOrder cancels any open remainder.
func (c *Client) CancelOrder(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if st.State == domain.OrderOpen {
		st.State = domain.OrderCancelled
		c.orders[orderID] = st
	}
	return nil
}

// crossingPrice returns the execution price and available size when the
// request crosses the current book for its side.
func (c *Client) crossingPrice(windowID string, side domain.Side, req domain.OrderRequest) (price, size float64, ok bool) {
	pair, err := c.store.Pair(windowID, c.now())
	if err != nil {
		return 0, 0, false
	}
	q := pair.Yes
	if side == domain.SideNo {
		q = pair.No
	}

	if req.Side == domain.OrderSideBuy {
		if q.BestAsk > 0 && req.Price >= q.BestAsk {
			return q.BestAsk, q.AskSize, true
		}
		return 0, 0, false
	}
	if q.BestBid > 0 && req.Price <= q.BestBid {
		return q.BestBid, q.BidSize, true
	}
	return 0, 0, false
}

// Compile-time interface check.
var _ domain.OrderClient = (*Client)(nil)
