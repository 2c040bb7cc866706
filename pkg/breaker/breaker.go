package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/types"
)

const keyPrefix = "sluice:breaker:"

// beforeScript decides admission and performs the open → half_open
// transition atomically. Only one caller wins the probe lease.
const beforeScript = `
local state = redis.call('HGET', KEYS[1], 'state')
local now = tonumber(ARGV[1])
if not state or state == 'closed' then
  return 'allow'
end
if state == 'open' then
  local opened_at = tonumber(redis.call('HGET', KEYS[1], 'opened_at') or '0')
  if now - opened_at < tonumber(ARGV[2]) then
    return 'reject'
  end
  local lease = tonumber(redis.call('HGET', KEYS[1], 'lease_until') or '0')
  if lease > now then
    return 'reject'
  end
  redis.call('HSET', KEYS[1], 'state', 'half_open', 'lease_until', now + tonumber(ARGV[3]))
  return 'probe'
end
local lease = tonumber(redis.call('HGET', KEYS[1], 'lease_until') or '0')
if lease > now then
  return 'reject'
end
redis.call('HSET', KEYS[1], 'lease_until', now + tonumber(ARGV[3]))
return 'probe'
`

// successScript closes the circuit and resets the failure counter.
const successScript = `
redis.call('HSET', KEYS[1], 'state', 'closed', 'failures', 0, 'lease_until', 0)
return 'closed'
`

// failureScript counts a failure within the sliding window; at the
// threshold, or on a failed half-open probe, the circuit opens and the
// cooldown restarts.
const failureScript = `
local now = tonumber(ARGV[1])
local last = tonumber(redis.call('HGET', KEYS[1], 'last_failure') or '0')
local failures = tonumber(redis.call('HGET', KEYS[1], 'failures') or '0')
if now - last > tonumber(ARGV[3]) then
  failures = 0
end
failures = failures + 1
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'half_open' or failures >= tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], 'state', 'open', 'failures', failures, 'last_failure', now, 'opened_at', now, 'lease_until', 0)
  return 'open'
end
redis.call('HSET', KEYS[1], 'failures', failures, 'last_failure', now)
if state then
  return state
end
return 'closed'
`

// Config holds breaker tuning.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	// ProbeLease bounds how long a half-open probe excludes other callers.
	ProbeLease time.Duration
	// Window is the sliding window for counting failures.
	Window time.Duration
}

// Registry keeps one distributed breaker per provider name. State lives in
// the shared store so the whole fleet agrees; all transitions are single
// atomic scripts. When the store is unreachable the registry fails open,
// with a per-process gobreaker as a containment net so a flapping provider
// is still fenced locally.
type Registry struct {
	store  store.Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local map[string]*gobreaker.TwoStepCircuitBreaker
}

// New creates a breaker registry.
func New(st store.Store, cfg Config) *Registry {
	if cfg.ProbeLease <= 0 {
		cfg.ProbeLease = 10 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.Cooldown
	}
	return &Registry{
		store:  st,
		cfg:    cfg,
		logger: log.WithComponent("breaker"),
		now:    time.Now,
		local:  make(map[string]*gobreaker.TwoStepCircuitBreaker),
	}
}

// Call tracks one admitted provider call so its outcome reaches both the
// distributed state and, in fallback mode, the local breaker.
type Call struct {
	reg       *Registry
	name      string
	localDone func(success bool)
}

// Before fetches the provider's circuit state and decides admission. A nil
// error means the call may proceed; report the outcome via Success or
// Failure on the returned Call.
func (r *Registry) Before(ctx context.Context, name string) (*Call, *types.Error) {
	raw, err := r.store.Eval(ctx, beforeScript,
		[]string{keyPrefix + name},
		r.now().Unix(), int(r.cfg.Cooldown.Seconds()), int(r.cfg.ProbeLease.Seconds()))
	if err != nil {
		// Fail open on store loss, but keep a local breaker in the path.
		r.logger.Warn().Err(err).Str("provider", name).Msg("breaker state unavailable, failing open")
		done, allowErr := r.localBreaker(name).Allow()
		if allowErr != nil {
			return nil, types.NewError(types.ErrNoProviders, "provider circuit open (local)").
				WithDetail("provider", name)
		}
		return &Call{reg: r, name: name, localDone: done}, nil
	}

	switch raw {
	case "allow", "probe":
		return &Call{reg: r, name: name}, nil
	case "reject":
		return nil, types.NewError(types.ErrNoProviders, "provider circuit open").
			WithDetail("provider", name)
	default:
		return nil, types.NewError(types.ErrInternal, "unexpected breaker decision").
			WithDetail("decision", raw)
	}
}

// Success records a clean call: half_open → closed, counters reset.
func (c *Call) Success(ctx context.Context) {
	if c.localDone != nil {
		c.localDone(true)
		return
	}
	if _, err := c.reg.store.Eval(ctx, successScript, []string{keyPrefix + c.name}); err != nil {
		c.reg.logger.Warn().Err(err).Str("provider", c.name).Msg("breaker success not recorded")
	}
	metrics.BreakerState.WithLabelValues(c.name).Set(0)
}

// Failure records a failed call and may open the circuit.
func (c *Call) Failure(ctx context.Context) {
	metrics.ProviderFailuresTotal.WithLabelValues(c.name).Inc()
	if c.localDone != nil {
		c.localDone(false)
		return
	}
	raw, err := c.reg.store.Eval(ctx, failureScript,
		[]string{keyPrefix + c.name},
		c.reg.now().Unix(), c.reg.cfg.FailureThreshold, int(c.reg.cfg.Window.Seconds()))
	if err != nil {
		c.reg.logger.Warn().Err(err).Str("provider", c.name).Msg("breaker failure not recorded")
		return
	}
	if state, ok := raw.(string); ok {
		metrics.BreakerState.WithLabelValues(c.name).Set(stateGaugeValue(types.CircuitState(state)))
		if state == string(types.CircuitOpen) {
			c.reg.logger.Warn().Str("provider", c.name).Msg("circuit opened")
		}
	}
}

// State returns the provider's effective circuit state for selection
// purposes: an open circuit whose cooldown elapsed reports half_open so the
// provider stays eligible for a probe.
func (r *Registry) State(ctx context.Context, name string) types.CircuitState {
	key := keyPrefix + name
	raw, err := r.store.Eval(ctx, `
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return 'closed' end
if state == 'open' then
  local opened_at = tonumber(redis.call('HGET', KEYS[1], 'opened_at') or '0')
  if tonumber(ARGV[1]) - opened_at >= tonumber(ARGV[2]) then
    return 'half_open'
  end
end
return state
`, []string{key}, r.now().Unix(), int(r.cfg.Cooldown.Seconds()))
	if err != nil {
		// Degraded selection treats the breaker as closed.
		r.logger.Warn().Err(err).Str("provider", name).Msg("breaker state read failed, assuming closed")
		return types.CircuitClosed
	}
	if s, ok := raw.(string); ok {
		return types.CircuitState(s)
	}
	return types.CircuitClosed
}

func (r *Registry) localBreaker(name string) *gobreaker.TwoStepCircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.local[name]
	if !ok {
		threshold := uint32(r.cfg.FailureThreshold)
		cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: r.cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
		r.local[name] = cb
	}
	return cb
}

func stateGaugeValue(s types.CircuitState) float64 {
	switch s {
	case types.CircuitHalfOpen:
		return 1
	case types.CircuitOpen:
		return 2
	default:
		return 0
	}
}
