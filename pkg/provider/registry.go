package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/breaker"
	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/types"
)

// Factory constructs a provider instance from its spec. Construction may
// allocate HTTP clients, so it runs lazily on first use.
type Factory func(spec types.ProviderSpec, opts Options) (Provider, error)

type record struct {
	spec    types.ProviderSpec
	factory Factory

	mu       sync.Mutex
	instance Provider
}

// Registry maps provider names to lazily instantiated singletons and
// performs health-ranked selection. Registration stores references only;
// instances are created once per process on first Get, guarded by a
// per-name mutex.
type Registry struct {
	breakers *breaker.Registry
	opts     Options
	logger   zerolog.Logger

	mu      sync.RWMutex
	order   []string
	records map[string]*record
}

// NewRegistry creates an empty registry.
func NewRegistry(breakers *breaker.Registry, opts Options) *Registry {
	return &Registry{
		breakers: breakers,
		opts:     opts,
		logger:   log.WithComponent("providers"),
		records:  make(map[string]*record),
	}
}

// Register stores a provider reference. Cheap and synchronous.
func (r *Registry) Register(spec types.ProviderSpec, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[spec.Name]; exists {
		return fmt.Errorf("provider %q already registered", spec.Name)
	}
	r.records[spec.Name] = &record{spec: spec, factory: factory}
	r.order = append(r.order, spec.Name)
	return nil
}

// Get returns the provider instance, creating it on first call.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	rec, ok := r.records[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.instance == nil {
		inst, err := rec.factory(rec.spec, r.opts)
		if err != nil {
			return nil, fmt.Errorf("construct provider %q: %w", name, err)
		}
		rec.instance = inst
		r.logger.Debug().Str("provider", name).Msg("provider instantiated")
	}
	return rec.instance, nil
}

// Names returns the registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Breakers exposes the registry's circuit breakers.
func (r *Registry) Breakers() *breaker.Registry {
	return r.breakers
}

// SelectHealthy returns the best provider whose circuit is closed or
// half-open, ordered by: preference match, circuit state (closed before
// half-open), then registration order. ok is false when none qualify.
func (r *Registry) SelectHealthy(ctx context.Context, prefer string, exclude map[string]bool) (string, bool) {
	r.mu.RLock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	r.mu.RUnlock()

	type candidate struct {
		name     string
		prefer   bool
		halfOpen bool
		idx      int
	}

	var candidates []candidate
	for idx, name := range order {
		if exclude[name] {
			continue
		}
		state := r.breakers.State(ctx, name)
		if state == types.CircuitOpen {
			continue
		}
		candidates = append(candidates, candidate{
			name:     name,
			prefer:   name == prefer,
			halfOpen: state == types.CircuitHalfOpen,
			idx:      idx,
		})
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].prefer != candidates[j].prefer {
			return candidates[i].prefer
		}
		if candidates[i].halfOpen != candidates[j].halfOpen {
			return !candidates[i].halfOpen
		}
		return candidates[i].idx < candidates[j].idx
	})
	return candidates[0].name, true
}

// FactoryFor resolves a provider kind to its constructor.
func FactoryFor(kind string) (Factory, error) {
	switch kind {
	case "fake":
		return NewFake, nil
	case "openai":
		return NewOpenAI, nil
	case "anthropic":
		return NewAnthropic, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
