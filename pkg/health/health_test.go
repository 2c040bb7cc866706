package health

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceio/sluice/pkg/breaker"
	"github.com/sluiceio/sluice/pkg/provider"
	"github.com/sluiceio/sluice/pkg/store"
	"github.com/sluiceio/sluice/pkg/types"
)

func failedResult() Result {
	return Result{Healthy: false, Message: "boom", CheckedAt: time.Now()}
}

func okResult() Result {
	return Result{Healthy: true, Message: "ok", CheckedAt: time.Now()}
}

func TestStatusRetryThreshold(t *testing.T) {
	cfg := Config{Timeout: time.Second, Retries: 3}
	s := NewStatus()
	assert.True(t, s.Healthy)

	// Two failures stay under the threshold.
	s.Update(failedResult(), cfg)
	s.Update(failedResult(), cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	s.Update(failedResult(), cfg)
	assert.False(t, s.Healthy)

	// One success restores health immediately.
	s.Update(okResult(), cfg)
	assert.True(t, s.Healthy)
	assert.Zero(t, s.ConsecutiveFailures)
}

func TestStatusSuccessResetsFailureStreak(t *testing.T) {
	cfg := Config{Timeout: time.Second, Retries: 2}
	s := NewStatus()

	s.Update(failedResult(), cfg)
	s.Update(okResult(), cfg)
	s.Update(failedResult(), cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 1, s.ConsecutiveFailures)
}

func TestStoreChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	c := NewStoreChecker(st, time.Second)

	assert.Equal(t, "store", c.Name())
	res := c.Check(context.Background())
	assert.True(t, res.Healthy)

	mr.Close()
	res = c.Check(context.Background())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "ping failed")
}

func newProviderRig(t *testing.T, names ...string) *provider.Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	breakers := breaker.New(st, breaker.Config{FailureThreshold: 1, Cooldown: time.Minute})
	reg := provider.NewRegistry(breakers, provider.Options{})
	for _, name := range names {
		spec := types.ProviderSpec{Name: name, Kind: "fake", Models: []string{"m"}}
		require.NoError(t, reg.Register(spec, provider.NewFake))
	}
	return reg
}

func openCircuit(t *testing.T, reg *provider.Registry, name string) {
	t.Helper()
	ctx := context.Background()
	call, gwErr := reg.Breakers().Before(ctx, name)
	require.Nil(t, gwErr)
	call.Failure(ctx)
	require.Equal(t, types.CircuitOpen, reg.Breakers().State(ctx, name))
}

func TestProviderCheckerHealthyWhileOneCircuitClosed(t *testing.T) {
	reg := newProviderRig(t, "p1", "p2")
	c := NewProviderChecker(reg)

	res := c.Check(context.Background())
	require.True(t, res.Healthy)
	assert.Equal(t, "ok", res.Message)

	openCircuit(t, reg, "p1")
	res = c.Check(context.Background())
	assert.True(t, res.Healthy)
	assert.Contains(t, res.Message, "p1")
}

func TestProviderCheckerAllCircuitsOpen(t *testing.T) {
	reg := newProviderRig(t, "p1", "p2")
	openCircuit(t, reg, "p1")
	openCircuit(t, reg, "p2")

	res := NewProviderChecker(reg).Check(context.Background())
	assert.False(t, res.Healthy)
	assert.Equal(t, "all provider circuits open", res.Message)
}

func TestProviderCheckerNoProviders(t *testing.T) {
	reg := newProviderRig(t)
	res := NewProviderChecker(reg).Check(context.Background())
	assert.False(t, res.Healthy)
}

func TestRegistryReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	r := NewRegistry(Config{Timeout: time.Second, Retries: 2})
	r.Register(NewStoreChecker(st, time.Second))

	results, ready := r.RunAll(context.Background())
	assert.True(t, ready)
	assert.True(t, results["store"].Healthy)

	// One failed round keeps readiness thanks to the retry threshold.
	mr.Close()
	_, ready = r.RunAll(context.Background())
	assert.True(t, ready)

	_, ready = r.RunAll(context.Background())
	assert.False(t, ready)

	statuses := r.Statuses()
	assert.False(t, statuses["store"].Healthy)
	assert.Equal(t, 2, statuses["store"].ConsecutiveFailures)
}

func TestRegistryReadinessFlipsOnFirstStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	// Retries of one, matching the serving configuration, so readiness
	// tracks store reachability check for check.
	r := NewRegistry(Config{Timeout: time.Second, Retries: 1})
	r.Register(NewStoreChecker(st, time.Second))

	_, ready := r.RunAll(context.Background())
	require.True(t, ready)

	mr.Close()
	_, ready = r.RunAll(context.Background())
	assert.False(t, ready)
}
