package cache

import (
	"context"
	"time"
)

// Store keeps the fixed-window request counters the rate limiter shares
// between API replicas. Invite records go through InviteCache instead.
type Store interface {
	// IncrementWithTTL bumps key and reports the new count together with the
	// time left in the window, which starts on the first increment.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
