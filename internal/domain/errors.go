package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrStaleQuote    = errors.New("quote stale or missing")
	ErrRateLimited   = errors.New("rate limited")
	ErrOrderRejected = errors.New("order rejected")
	ErrTransient     = errors.New("transient venue error")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)

// RetryableOrderError reports whether an order submission failure may be
// retried. Rate limits and transient venue faults qualify; rejections are
// terminal.
func RetryableOrderError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
