package kvstore

import (
	"context"
	"math"
	"time"
)

// RetryPolicy is an exponential-backoff curve. RedisStore.Update uses one
// instance for every key it writes (profiles and faction totals alike),
// and the stage manager uses another for reparent retries. The faction
// totals flush runs its own backoff loop around Store.Update instead.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff delay before attempt n (0-indexed).
func (p RetryPolicy) Delay(n int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(n)))
}

// Sleep waits for the backoff delay before attempt n, honoring ctx
// cancellation.
func (p RetryPolicy) Sleep(ctx context.Context, n int) error {
	t := time.NewTimer(p.Delay(n))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
