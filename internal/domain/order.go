package domain

import "context"

// OrderSide indicates buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderState tracks a submitted order on the venue.
type OrderState string

const (
	OrderOpen      OrderState = "open"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "cancelled"
	OrderRejected  OrderState = "rejected"
)

// OrderRequest describes one order to submit.
type OrderRequest struct {
	WindowID string
	TokenID  string
	Side     OrderSide
	Price    float64
	Size     float64
}

// NotionalUSD is the cash this order commits (buy) or recovers (sell).
func (r OrderRequest) NotionalUSD() float64 {
	return r.Price * r.Size
}

// OrderStatus is the venue's view of a submitted order.
type OrderStatus struct {
	OrderID       string
	FilledSize    float64
	RemainingSize float64
	AvgFillPrice  float64
	State         OrderState
}

// Done reports whether the order needs no further polling.
func (s OrderStatus) Done() bool {
	return s.State == OrderFilled || s.State == OrderCancelled || s.State == OrderRejected
}

// OrderClient is the venue order API consumed by the execution engine.
// SubmitOrder failures are classified by RetryableOrderError: ErrRateLimited
// and ErrTransient may be retried, anything else is terminal.
type OrderClient interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}
