package pool

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/types"
)

func newTestPool(t *testing.T, cfg Config) (*Coordinator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return New(st, cfg), mr
}

func defaultConfig() Config {
	return Config{GlobalMax: 10, PerUserMax: 3, DegradedAt: 0.7, CriticalAt: 0.9}
}

func TestAcquireAndRelease(t *testing.T) {
	c, _ := newTestPool(t, defaultConfig())
	ctx := context.Background()

	result, lease, err := c.Acquire(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, types.AcquireAdmitted, result)
	require.NotNil(t, lease)

	active, err := c.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	lease.Release(ctx)
	active, err = c.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

func TestPerUserLimit(t *testing.T) {
	c, _ := newTestPool(t, defaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, lease, err := c.Acquire(ctx, "u1", fmt.Sprintf("t%d", i))
		require.NoError(t, err)
		require.Equal(t, types.AcquireAdmitted, result)
		require.NotNil(t, lease)
	}

	result, lease, err := c.Acquire(ctx, "u1", "t4")
	require.NoError(t, err)
	assert.Equal(t, types.AcquireUserExhausted, result)
	assert.Nil(t, lease)

	// A rejected acquire must not leak global capacity.
	active, err := c.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, active)

	// Another user is unaffected.
	result, _, err = c.Acquire(ctx, "u2", "t5")
	require.NoError(t, err)
	assert.Equal(t, types.AcquireAdmitted, result)
}

func TestGlobalLimit(t *testing.T) {
	cfg := defaultConfig()
	cfg.GlobalMax = 2
	c, _ := newTestPool(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, _, err := c.Acquire(ctx, fmt.Sprintf("u%d", i), fmt.Sprintf("t%d", i))
		require.NoError(t, err)
		require.Equal(t, types.AcquireAdmitted, result)
	}

	result, lease, err := c.Acquire(ctx, "u9", "t9")
	require.NoError(t, err)
	assert.Equal(t, types.AcquireGlobalExhausted, result)
	assert.Nil(t, lease)
}

func TestReleaseIdempotent(t *testing.T) {
	c, _ := newTestPool(t, defaultConfig())
	ctx := context.Background()

	_, lease, err := c.Acquire(ctx, "u1", "t1")
	require.NoError(t, err)

	lease.Release(ctx)
	lease.Release(ctx)

	active, err := c.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)

	n, err := c.UserActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	cfg := defaultConfig()
	cfg.PerUserMax = 1
	c, _ := newTestPool(t, cfg)
	ctx := context.Background()

	_, lease, err := c.Acquire(ctx, "u1", "t1")
	require.NoError(t, err)
	lease.Release(ctx)

	result, _, err := c.Acquire(ctx, "u1", "t2")
	require.NoError(t, err)
	assert.Equal(t, types.AcquireAdmitted, result)
}

func TestHealthThresholds(t *testing.T) {
	c, _ := newTestPool(t, Config{GlobalMax: 10, PerUserMax: 3, DegradedAt: 0.7, CriticalAt: 0.9})

	assert.Equal(t, types.PoolHealthy, c.Health(0))
	assert.Equal(t, types.PoolHealthy, c.Health(6))
	assert.Equal(t, types.PoolDegraded, c.Health(7))
	assert.Equal(t, types.PoolCritical, c.Health(9))
	assert.Equal(t, types.PoolExhausted, c.Health(10))
}

func TestLocalFallbackWhenStoreDown(t *testing.T) {
	cfg := defaultConfig()
	cfg.PerUserMax = 1
	c, mr := newTestPool(t, cfg)
	mr.Close()
	ctx := context.Background()

	result, lease, err := c.Acquire(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, types.AcquireAdmitted, result)
	require.NotNil(t, lease)

	// Limits still hold locally.
	result, _, err = c.Acquire(ctx, "u1", "t2")
	require.NoError(t, err)
	assert.Equal(t, types.AcquireUserExhausted, result)

	lease.Release(ctx)
	result, _, err = c.Acquire(ctx, "u1", "t3")
	require.NoError(t, err)
	assert.Equal(t, types.AcquireAdmitted, result)
}
