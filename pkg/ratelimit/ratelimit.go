package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/store"
)

// window is the fixed rate-limit window.
const window = time.Minute

// Result is the outcome of a limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces per-user request limits with a fixed-window counter on
// the shared store, so the budget is consistent fleet-wide. The first
// increment of a window sets its TTL; the counter within a window is
// monotonically non-decreasing until rollover.
type Limiter struct {
	store    store.Store
	limitFor func(userID string) int
	now      func() time.Time
}

// New creates a limiter. limitFor resolves a user to its tier's per-minute
// budget.
func New(st store.Store, limitFor func(userID string) int) *Limiter {
	return &Limiter{
		store:    st,
		limitFor: limitFor,
		now:      time.Now,
	}
}

// Check consumes cost units of the user's window budget.
func (l *Limiter) Check(ctx context.Context, userID string, cost int) (Result, error) {
	if cost < 1 {
		cost = 1
	}
	limit := l.limitFor(userID)
	now := l.now()
	windowStart := now.Truncate(window)
	key := fmt.Sprintf("sluice:rl:%s:%d", userID, windowStart.Unix())

	var count int64
	var err error
	for i := 0; i < cost; i++ {
		count, err = l.store.Incr(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("rate limit counter: %w", err)
		}
		if count == 1 {
			// First write owns the window TTL. A second of slack keeps the
			// key alive through clock skew at the boundary.
			if err := l.store.Expire(ctx, key, window+time.Second); err != nil {
				logger := log.WithUserID(userID)
				logger.Warn().Err(err).Msg("failed to set window TTL")
			}
		}
	}

	retryAfter := windowStart.Add(window).Sub(now)
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    int(count) <= limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}
