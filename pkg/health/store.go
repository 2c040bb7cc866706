package health

import (
	"context"
	"fmt"
	"time"

	"github.com/sluiceio/sluice/pkg/store"
)

// StoreChecker probes the shared coordination store. The gateway keeps
// serving when the store is down, so this gates readiness reporting only.
type StoreChecker struct {
	store   store.Store
	timeout time.Duration
}

// NewStoreChecker creates a probe against the shared store.
func NewStoreChecker(st store.Store, timeout time.Duration) *StoreChecker {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &StoreChecker{store: st, timeout: timeout}
}

// Check pings the store.
func (c *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Name returns the dependency name.
func (c *StoreChecker) Name() string {
	return "store"
}
