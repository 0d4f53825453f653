package domain

import (
	"context"
	"time"
)

// LockManager provides exclusive leases. The execution engine takes one per
// window before leaving Planned, which is what enforces at-most-one
// concurrent execution per window across processes.
type LockManager interface {
	// Acquire returns ErrLockHeld if another holder owns the key. The
	// returned unlock func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides a shared request budget across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// SignalBus is ephemeral pub/sub used to broadcast opportunity and fill
// events to observers (monitor dashboards, notifiers).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// QuoteCache mirrors the latest quote per (window, side) so out-of-process
// tooling can read what the in-memory snapshot store sees.
type QuoteCache interface {
	Set(ctx context.Context, q Quote) error
	Get(ctx context.Context, windowID string, side Side) (Quote, error)
}
