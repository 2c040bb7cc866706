package health

import (
	"context"
	"sync"
)

// Registry holds named probes and their rolling statuses.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	checkers []Checker
	statuses map[string]*Status
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		statuses: make(map[string]*Status),
	}
}

// Register adds a probe.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, c)
	r.statuses[c.Name()] = NewStatus()
}

// RunAll executes every probe once, folds the results into the rolling
// statuses, and reports per-dependency results plus overall readiness.
// A dependency is unhealthy only after the configured retry threshold.
func (r *Registry) RunAll(ctx context.Context) (map[string]Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make(map[string]Result, len(r.checkers))
	ready := true
	for _, c := range r.checkers {
		res := c.Check(ctx)
		status := r.statuses[c.Name()]
		status.Update(res, r.cfg)
		results[c.Name()] = res
		if !status.Healthy {
			ready = false
		}
	}
	return results, ready
}

// Statuses returns a snapshot of the rolling statuses.
func (r *Registry) Statuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.statuses))
	for name, s := range r.statuses {
		out[name] = *s
	}
	return out
}
