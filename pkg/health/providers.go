package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sluiceio/sluice/pkg/provider"
	"github.com/sluiceio/sluice/pkg/types"
)

// ProviderChecker reports readiness from circuit breaker states: the
// instance can serve as long as at least one registered provider is not
// open.
type ProviderChecker struct {
	providers *provider.Registry
}

// NewProviderChecker creates the probe.
func NewProviderChecker(reg *provider.Registry) *ProviderChecker {
	return &ProviderChecker{providers: reg}
}

// Check inspects every provider's breaker.
func (c *ProviderChecker) Check(ctx context.Context) Result {
	start := time.Now()

	names := c.providers.Names()
	if len(names) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no providers registered",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	breakers := c.providers.Breakers()
	open := make([]string, 0, len(names))
	for _, name := range names {
		if breakers.State(ctx, name) == types.CircuitOpen {
			open = append(open, name)
		}
	}

	if len(open) == len(names) {
		return Result{
			Healthy:   false,
			Message:   "all provider circuits open",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	msg := "ok"
	if len(open) > 0 {
		msg = fmt.Sprintf("circuits open: %s", strings.Join(open, ","))
	}
	return Result{
		Healthy:   true,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Name returns the dependency name.
func (c *ProviderChecker) Name() string {
	return "providers"
}
