package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/tracker"
)

func newTestCache(t *testing.T) (*TwoTier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewTwoTier(st, 10, time.Hour), mr
}

func TestTwoTierMiss(t *testing.T) {
	c, _ := newTestCache(t)
	_, _, ok := c.Get(context.Background(), "absent", "t-1")
	assert.False(t, ok)
}

func TestTwoTierSetThenGetHitsL1(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "key", "value")
	val, src, ok := c.Get(ctx, "key", "t-1")
	require.True(t, ok)
	assert.Equal(t, "value", val)
	assert.Equal(t, SourceL1, src)
}

func TestTwoTierL2HitPopulatesL1(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	// Entry present only in the shared tier, as if another instance wrote it.
	require.NoError(t, mr.Set("sluice:cache:key", "remote"))

	val, src, ok := c.Get(ctx, "key", "t-1")
	require.True(t, ok)
	assert.Equal(t, "remote", val)
	assert.Equal(t, SourceL2, src)

	// Second read is local.
	_, src, ok = c.Get(ctx, "key", "t-1")
	require.True(t, ok)
	assert.Equal(t, SourceL1, src)
}

func TestTwoTierL2FailureDegradesToMiss(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, _, ok := c.Get(context.Background(), "key", "t-1")
	assert.False(t, ok)
}

func TestTwoTierTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "key", "value")
	c.l1.Delete("key")
	mr.FastForward(2 * time.Hour)

	_, _, ok := c.Get(ctx, "key", "t-1")
	assert.False(t, ok)
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var computes int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&computes, 1)
		<-release
		return "produced", nil
	}

	const callers = 5
	var wg sync.WaitGroup
	sources := make([]Source, callers)
	values := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, src, err := c.GetOrCompute(ctx, "key", "t-1", compute)
			assert.NoError(t, err)
			values[i] = val
			sources[i] = src
		}(i)
	}

	// Let all callers reach the flight before the leader finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
	computed := 0
	for i := 0; i < callers; i++ {
		assert.Equal(t, "produced", values[i])
		if sources[i] == SourceComputed {
			computed++
		} else {
			assert.Equal(t, SourceShared, sources[i])
		}
	}
	assert.Equal(t, 1, computed)
}

func TestGetOrComputeReturnsCachedWithoutCompute(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	c.Set(ctx, "key", "cached")

	val, src, err := c.GetOrCompute(ctx, "key", "t-1", func(ctx context.Context) (string, error) {
		t.Fatal("compute must not run on a cache hit")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", val)
	assert.Equal(t, SourceL1, src)
}

func TestGetOrComputeCancelledCaller(t *testing.T) {
	c, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, _, err := c.GetOrCompute(ctx, "key", "t-1", func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeSkipsLookup(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	val, src, err := c.Compute(ctx, "key", func(ctx context.Context) (string, error) {
		return "produced", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "produced", val)
	assert.Equal(t, SourceComputed, src)

	// No tier was consulted, so the local stats record nothing.
	assert.Zero(t, c.L1Stats().Misses)
	assert.Zero(t, c.L1Stats().Hits)
}

func TestGetRecordsTierSpans(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	trk := tracker.New(func() float64 { return 1 }, 16)
	c.Instrument(trk)

	// A full miss walks both tiers.
	_, _, ok := c.Get(ctx, "key", "t-1")
	require.False(t, ok)
	assert.Equal(t, 1, trk.SampleCount(tracker.StageCacheL1))
	assert.Equal(t, 1, trk.SampleCount(tracker.StageCacheL2))

	// An L1 hit never reaches the shared tier.
	c.Set(ctx, "key", "value")
	_, _, ok = c.Get(ctx, "key", "t-1")
	require.True(t, ok)
	assert.Equal(t, 2, trk.SampleCount(tracker.StageCacheL1))
	assert.Equal(t, 1, trk.SampleCount(tracker.StageCacheL2))
}
