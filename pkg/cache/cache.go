package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/metrics"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/tracker"
	"github.com/sluiceio/sluice/pkg/types"
)

// Source identifies where a cached value came from.
type Source string

const (
	SourceL1       Source = "l1"
	SourceL2       Source = "l2"
	SourceComputed Source = "computed" // this caller ran the compute function
	SourceShared   Source = "shared"   // another in-flight caller produced the value
)

const l2KeyPrefix = "sluice:cache:"

// TwoTier stacks the local LRU over the shared store behind one interface.
// Reads go L1 then L2 (populating L1 on an L2 hit); writes go to both, with
// L2 failures logged but never invalidating L1. GetOrCompute adds
// single-flight population at single-instance scope.
type TwoTier struct {
	l1      *LRU
	l2      store.Store
	ttl     time.Duration
	flight  singleflight.Group
	tracker *tracker.Tracker
	logger  zerolog.Logger
}

// NewTwoTier builds the cache over the shared store.
func NewTwoTier(l2 store.Store, l1MaxSize int, ttl time.Duration) *TwoTier {
	return &TwoTier{
		l1:     NewLRU(l1MaxSize),
		l2:     l2,
		ttl:    ttl,
		logger: log.WithComponent("cache"),
	}
}

// Instrument attaches the execution tracker so lookups record per-tier
// sub-spans. Must be called before the cache serves requests.
func (c *TwoTier) Instrument(trk *tracker.Tracker) {
	c.tracker = trk
}

func (c *TwoTier) begin(stage, threadID string) *tracker.Span {
	if c.tracker == nil {
		return nil
	}
	return c.tracker.Begin(stage, threadID, false)
}

// Get looks a key up through both tiers. threadID keys the per-tier span
// sampling decision.
func (c *TwoTier) Get(ctx context.Context, key, threadID string) (string, Source, bool) {
	span := c.begin(tracker.StageCacheL1, threadID)
	if val, ok := c.l1.Get(key); ok {
		span.End(types.OutcomeHit)
		metrics.CacheHitsTotal.WithLabelValues("l1").Inc()
		return val, SourceL1, true
	}
	span.End(types.OutcomeMiss)

	span = c.begin(tracker.StageCacheL2, threadID)
	val, ok, err := c.l2.Get(ctx, l2KeyPrefix+key)
	if err != nil {
		// Read-path L2 failures degrade to a miss.
		span.End(types.OutcomeError)
		c.logger.Warn().Err(err).Str("key", key).Msg("L2 read failed, treating as miss")
		metrics.CacheMissesTotal.Inc()
		return "", "", false
	}
	if !ok {
		span.End(types.OutcomeMiss)
		metrics.CacheMissesTotal.Inc()
		return "", "", false
	}
	span.End(types.OutcomeHit)

	metrics.CacheHitsTotal.WithLabelValues("l2").Inc()
	c.l1.Set(key, val)
	return val, SourceL2, true
}

// Set writes a key to both tiers. Best-effort on L2.
func (c *TwoTier) Set(ctx context.Context, key, value string) {
	c.l1.Set(key, value)
	if err := c.l2.Set(ctx, l2KeyPrefix+key, value, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("L2 write failed")
	}
}

// Delete removes a key from both tiers.
func (c *TwoTier) Delete(ctx context.Context, key string) {
	c.l1.Delete(key)
	if err := c.l2.Del(ctx, l2KeyPrefix+key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("L2 delete failed")
	}
}

// GetOrCompute returns the cached value for key, or runs compute under a
// per-key single-flight handle. Callers that have already taken a miss from
// Get should call Compute directly so the lookup is not repeated.
func (c *TwoTier) GetOrCompute(ctx context.Context, key, threadID string, compute func(ctx context.Context) (string, error)) (string, Source, error) {
	if val, src, ok := c.Get(ctx, key, threadID); ok {
		return val, src, nil
	}
	return c.Compute(ctx, key, compute)
}

// Compute runs compute under a per-key single-flight handle without a prior
// lookup. The first caller for a key becomes the producer; concurrent
// callers for the same key block on the handle and receive the producer's
// value with Source SourceShared. compute owns cache population; no lock is
// held across it. Duplicate fetches across instances are accepted.
func (c *TwoTier) Compute(ctx context.Context, key string, compute func(ctx context.Context) (string, error)) (string, Source, error) {
	ran := false
	ch := c.flight.DoChan(key, func() (any, error) {
		ran = true
		return compute(ctx)
	})

	select {
	case res := <-ch:
		src := SourceShared
		if ran {
			src = SourceComputed
		}
		if res.Err != nil {
			return "", src, res.Err
		}
		return res.Val.(string), src, nil
	case <-ctx.Done():
		c.flight.Forget(key)
		return "", SourceShared, ctx.Err()
	}
}

// L1Stats exposes the local tier's counters for the admin surface and the
// metrics collector.
func (c *TwoTier) L1Stats() Stats {
	return c.l1.Stats()
}
