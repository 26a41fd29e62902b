package repository

import (
	"context"
	"time"
)

// CounterStore is the shared fixed-window counter used by the rate limiter.
// Increment is atomic across processes: it bumps key, starts the expiry on
// the first hit of a window and returns the new count with the time left.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
