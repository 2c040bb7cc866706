package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluiceio/sluice/pkg/types"
)

func providerSpec(name string, models ...string) types.ProviderSpec {
	return types.ProviderSpec{Name: name, Kind: "fake", Models: models}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, ":9090", cfg.AdminListen)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, 10000, cfg.Pool.GlobalMax)
	assert.Equal(t, 3, cfg.Pool.PerUserMax)
	assert.Equal(t, 0.7, cfg.Pool.DegradedAt)
	assert.Equal(t, 0.9, cfg.Pool.CriticalAt)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60, cfg.Breaker.CooldownSeconds)
	assert.Equal(t, 60, cfg.RateLimit["free"])
	assert.Equal(t, 600, cfg.RateLimit["pro"])
	assert.Equal(t, "free", cfg.DefaultTier)
	assert.True(t, cfg.Queue.FailoverEnabled)
	assert.Equal(t, 30, cfg.Queue.TimeoutSeconds)
	assert.Equal(t, 0.8, cfg.Queue.BackpressureThresholdRatio)
	assert.Equal(t, 10000, cfg.Queue.MaxDepth)
	assert.Equal(t, time.Hour, cfg.CacheTTL())
	assert.Equal(t, 2, cfg.ProviderFanOut)
	assert.Equal(t, 300, cfg.Timeouts.TotalRequestSec)
	assert.Equal(t, 15, cfg.Timeouts.HeartbeatSec)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero global max", func(c *Config) { c.Pool.GlobalMax = 0 }},
		{"zero per-user max", func(c *Config) { c.Pool.PerUserMax = 0 }},
		{"inverted thresholds", func(c *Config) { c.Pool.DegradedAt = 0.95 }},
		{"critical at one", func(c *Config) { c.Pool.CriticalAt = 1 }},
		{"sample rate above one", func(c *Config) { c.Tracker.SampleRate = 1.5 }},
		{"negative sample rate", func(c *Config) { c.Tracker.SampleRate = -0.1 }},
		{"zero cache size", func(c *Config) { c.Cache.L1MaxSize = 0 }},
		{"bad backpressure ratio", func(c *Config) { c.Queue.BackpressureThresholdRatio = 0 }},
		{"unknown environment", func(c *Config) { c.Environment = "qa" }},
		{"provider without name", func(c *Config) {
			c.Providers = append(c.Providers, providerSpec("", "m"))
		}},
		{"provider without models", func(c *Config) {
			c.Providers = append(c.Providers, providerSpec("p"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTierAndLimitResolution(t *testing.T) {
	cfg := Default()
	cfg.UserTiers = map[string]string{"alice": "pro"}

	assert.Equal(t, "pro", cfg.TierFor("alice"))
	assert.Equal(t, "free", cfg.TierFor("unknown"))
	assert.Equal(t, 600, cfg.LimitFor("alice"))
	assert.Equal(t, 60, cfg.LimitFor("unknown"))

	// Tier without a configured limit falls back to the floor.
	cfg.UserTiers["bob"] = "enterprise"
	assert.Equal(t, 60, cfg.LimitFor("bob"))
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen: ":8081"
environment: production
pool:
  globalMax: 500
rateLimit:
  free: 10
providers:
  - name: openai
    kind: openai
    models: [gpt-4]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Listen)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, 500, cfg.Pool.GlobalMax)
	assert.Equal(t, 10, cfg.RateLimit["free"])
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Pool.PerUserMax)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "openai", cfg.Providers[0].Name)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  globalMax: 0\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRuntimeApply(t *testing.T) {
	r := NewRuntime(Default())
	snap := r.Get()
	assert.True(t, snap.CachingEnabled)
	assert.True(t, snap.FailoverEnabled)

	snap.SampleRate = 0.25
	snap.CachingEnabled = false
	require.NoError(t, r.Apply(snap))
	assert.Equal(t, 0.25, r.SampleRate())
	assert.False(t, r.CachingEnabled())
	assert.True(t, r.FailoverEnabled())
}

func TestRuntimeApplyRejectsBadSampleRate(t *testing.T) {
	r := NewRuntime(Default())
	before := r.Get()

	assert.Error(t, r.Apply(Snapshot{SampleRate: 1.1}))
	assert.Error(t, r.Apply(Snapshot{SampleRate: -0.1}))
	assert.Equal(t, before, r.Get())
}
