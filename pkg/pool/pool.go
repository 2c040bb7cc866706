package pool

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/types"
)

const (
	globalKey      = "sluice:pool:global"
	userKeyPrefix  = "sluice:pool:user:"
	threadsSetKey  = "sluice:pool:threads"
)

// acquireScript performs the whole admission decision as one atomic batch:
// increment the global counter, increment the user counter, add the thread
// ID to the active set, rolling back every partial increment when a limit
// would be exceeded.
const acquireScript = `
local g = redis.call('INCR', KEYS[1])
if g > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return {'global_exhausted', g - 1, 0}
end
local u = redis.call('INCR', KEYS[2])
if u > tonumber(ARGV[2]) then
  redis.call('DECR', KEYS[2])
  redis.call('DECR', KEYS[1])
  return {'user_exhausted', g - 1, u - 1}
end
redis.call('SADD', KEYS[3], ARGV[3])
return {'admitted', g, u}
`

// releaseScript is unconditional and idempotent: the thread set membership
// guards against double release, and counters floor at zero.
const releaseScript = `
local removed = redis.call('SREM', KEYS[3], ARGV[1])
if removed == 0 then
  return 0
end
local g = redis.call('DECR', KEYS[1])
if g < 0 then redis.call('SET', KEYS[1], 0) end
local u = redis.call('DECR', KEYS[2])
if u < 0 then redis.call('SET', KEYS[2], 0) end
return 1
`

// Config holds pool limits and health thresholds.
type Config struct {
	GlobalMax  int
	PerUserMax int
	DegradedAt float64
	CriticalAt float64
}

// Coordinator enforces the global and per-user concurrency limits with
// distributed counters. The global counter is the source of truth; the
// per-user counter is the fairness guard. When the shared store is
// unreachable, acquire degrades to process-local counters with the same
// limits.
type Coordinator struct {
	store  store.Store
	cfg    Config
	logger zerolog.Logger

	// Local fallback state, also used to report utilization when the
	// store is down.
	mu          sync.Mutex
	localGlobal int
	localUsers  map[string]int
	lastHealth  types.PoolHealth
}

// New creates a coordinator.
func New(st store.Store, cfg Config) *Coordinator {
	return &Coordinator{
		store:      st,
		cfg:        cfg,
		logger:     log.WithComponent("pool"),
		localUsers: make(map[string]int),
		lastHealth: types.PoolHealthy,
	}
}

// Lease represents one held pool slot. Release is safe to call more than
// once and from any exit path.
type Lease struct {
	release func(ctx context.Context)
	once    sync.Once
}

// Release returns the slot. Idempotent.
func (l *Lease) Release(ctx context.Context) {
	if l == nil {
		return
	}
	l.once.Do(func() { l.release(ctx) })
}

// Acquire attempts to take a slot for the thread. On admission it returns a
// lease; otherwise the result names the exhausted limit and the lease is
// nil.
func (c *Coordinator) Acquire(ctx context.Context, userID, threadID string) (types.AcquireResult, *Lease, error) {
	userKey := userKeyPrefix + userID

	raw, err := c.store.Eval(ctx, acquireScript,
		[]string{globalKey, userKey, threadsSetKey},
		c.cfg.GlobalMax, c.cfg.PerUserMax, threadID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("shared store unreachable, using local pool counters")
		return c.acquireLocal(userID, threadID)
	}

	result, active, err := parseAcquireReply(raw)
	if err != nil {
		return "", nil, err
	}

	c.observeHealth(active)

	switch result {
	case types.AcquireAdmitted:
		lease := &Lease{release: func(ctx context.Context) {
			c.releaseShared(ctx, userKey, threadID)
		}}
		return result, lease, nil
	case types.AcquireGlobalExhausted:
		metrics.PoolRejectionsTotal.WithLabelValues("global").Inc()
		return result, nil, nil
	case types.AcquireUserExhausted:
		metrics.PoolRejectionsTotal.WithLabelValues("user").Inc()
		return result, nil, nil
	default:
		return "", nil, fmt.Errorf("pool: unknown acquire result %q", result)
	}
}

func (c *Coordinator) releaseShared(ctx context.Context, userKey, threadID string) {
	_, err := c.store.Eval(ctx, releaseScript,
		[]string{globalKey, userKey, threadsSetKey}, threadID)
	if err != nil {
		c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("pool release failed")
	}
}

// acquireLocal is the safety net when the shared store is down. Counters
// reconcile by natural decay as requests finish.
func (c *Coordinator) acquireLocal(userID, threadID string) (types.AcquireResult, *Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.localGlobal >= c.cfg.GlobalMax {
		metrics.PoolRejectionsTotal.WithLabelValues("global").Inc()
		return types.AcquireGlobalExhausted, nil, nil
	}
	if c.localUsers[userID] >= c.cfg.PerUserMax {
		metrics.PoolRejectionsTotal.WithLabelValues("user").Inc()
		return types.AcquireUserExhausted, nil, nil
	}

	c.localGlobal++
	c.localUsers[userID]++

	lease := &Lease{release: func(context.Context) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.localGlobal > 0 {
			c.localGlobal--
		}
		if c.localUsers[userID] > 0 {
			c.localUsers[userID]--
			if c.localUsers[userID] == 0 {
				delete(c.localUsers, userID)
			}
		}
	}}
	return types.AcquireAdmitted, lease, nil
}

// Active returns the current global counter.
func (c *Coordinator) Active(ctx context.Context) (int, error) {
	val, ok, err := c.store.Get(ctx, globalKey)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.localGlobal, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("pool: malformed global counter %q", val)
	}
	return n, nil
}

// UserActive returns the user's current counter.
func (c *Coordinator) UserActive(ctx context.Context, userID string) (int, error) {
	val, ok, err := c.store.Get(ctx, userKeyPrefix+userID)
	if err != nil || !ok {
		return 0, err
	}
	n, convErr := strconv.Atoi(val)
	if convErr != nil {
		return 0, fmt.Errorf("pool: malformed user counter %q", val)
	}
	return n, nil
}

// Health classifies utilization against the configured thresholds.
func (c *Coordinator) Health(active int) types.PoolHealth {
	switch {
	case active >= c.cfg.GlobalMax:
		return types.PoolExhausted
	case float64(active) >= c.cfg.CriticalAt*float64(c.cfg.GlobalMax):
		return types.PoolCritical
	case float64(active) >= c.cfg.DegradedAt*float64(c.cfg.GlobalMax):
		return types.PoolDegraded
	default:
		return types.PoolHealthy
	}
}

// observeHealth logs state transitions and refreshes the gauges. Health
// never changes admission behavior.
func (c *Coordinator) observeHealth(active int) {
	metrics.PoolActive.Set(float64(active))
	health := c.Health(active)

	c.mu.Lock()
	changed := health != c.lastHealth
	c.lastHealth = health
	c.mu.Unlock()

	for _, s := range []types.PoolHealth{types.PoolHealthy, types.PoolDegraded, types.PoolCritical, types.PoolExhausted} {
		v := 0.0
		if s == health {
			v = 1.0
		}
		metrics.PoolHealthState.WithLabelValues(string(s)).Set(v)
	}

	if changed {
		c.logger.Info().
			Str("health", string(health)).
			Int("active", active).
			Int("max", c.cfg.GlobalMax).
			Msg("pool health transition")
	}
}

func parseAcquireReply(raw any) (types.AcquireResult, int, error) {
	arr, ok := raw.([]any)
	if !ok || len(arr) < 2 {
		return "", 0, fmt.Errorf("pool: unexpected acquire reply %v", raw)
	}
	status, ok := arr[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("pool: unexpected acquire status %v", arr[0])
	}
	active := 0
	if n, ok := arr[1].(int64); ok {
		active = int(n)
	}
	return types.AcquireResult(status), active, nil
}
