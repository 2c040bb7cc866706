package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sluiceio/sluice/pkg/types"
)

// Environment selects CORS defaults and HSTS policy.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the full typed configuration of a gateway instance. All
// recognized options are enumerated here; there is no dynamic map.
type Config struct {
	Listen      string      `yaml:"listen"`
	AdminListen string      `yaml:"adminListen"`
	Environment Environment `yaml:"environment"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Cache struct {
		L1MaxSize  int `yaml:"l1MaxSize"`
		TTLSeconds int `yaml:"ttlSeconds"`
	} `yaml:"cache"`

	Pool struct {
		GlobalMax  int     `yaml:"globalMax"`
		PerUserMax int     `yaml:"perUserMax"`
		DegradedAt float64 `yaml:"degradedAt"`
		CriticalAt float64 `yaml:"criticalAt"`
	} `yaml:"pool"`

	Breaker struct {
		FailureThreshold int `yaml:"failureThreshold"`
		CooldownSeconds  int `yaml:"cooldownSeconds"`
	} `yaml:"breaker"`

	// RateLimit maps tier name to allowed requests per minute.
	RateLimit map[string]int `yaml:"rateLimit"`
	// UserTiers maps user ID to tier; unknown users get DefaultTier.
	UserTiers   map[string]string `yaml:"userTiers"`
	DefaultTier string            `yaml:"defaultTier"`

	Queue struct {
		FailoverEnabled            bool    `yaml:"failoverEnabled"`
		TimeoutSeconds             int     `yaml:"timeoutSeconds"`
		MaxRetries                 int     `yaml:"maxRetries"`
		BackpressureThresholdRatio float64 `yaml:"backpressureThresholdRatio"`
		MaxDepth                   int     `yaml:"maxDepth"`
		ResultBatchSize            int     `yaml:"resultBatchSize"`
		Workers                    int     `yaml:"workers"`
	} `yaml:"queue"`

	LoadShed struct {
		Enabled     bool `yaml:"enabled"`
		MaxInFlight int  `yaml:"maxInFlight"`
	} `yaml:"loadShed"`

	Tracker struct {
		SampleRate float64 `yaml:"sampleRate"`
	} `yaml:"tracker"`

	Timeouts struct {
		ValidationMS       int `yaml:"validationMs"`
		CacheLookupMS      int `yaml:"cacheLookupMs"`
		RateLimitMS        int `yaml:"rateLimitMs"`
		ProviderConnectSec int `yaml:"providerConnectSeconds"`
		ProviderReadSec    int `yaml:"providerReadSeconds"`
		TotalRequestSec    int `yaml:"totalRequestSeconds"`
		HeartbeatSec       int `yaml:"heartbeatSeconds"`
		ShutdownSec        int `yaml:"shutdownSeconds"`
	} `yaml:"timeouts"`

	// ProviderFanOut is the maximum number of providers tried for one
	// request when streaming fails before the first chunk.
	ProviderFanOut int `yaml:"providerFanOut"`

	Providers []types.ProviderSpec `yaml:"providers"`

	CORS struct {
		Origins []string `yaml:"origins"`
	} `yaml:"cors"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	cfg := &Config{}
	cfg.Listen = ":8080"
	cfg.AdminListen = ":9090"
	cfg.Environment = EnvDevelopment
	cfg.Log.Level = "info"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Cache.L1MaxSize = 1000
	cfg.Cache.TTLSeconds = 3600
	cfg.Pool.GlobalMax = 10000
	cfg.Pool.PerUserMax = 3
	cfg.Pool.DegradedAt = 0.7
	cfg.Pool.CriticalAt = 0.9
	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.CooldownSeconds = 60
	cfg.RateLimit = map[string]int{"free": 60, "pro": 600}
	cfg.DefaultTier = "free"
	cfg.Queue.FailoverEnabled = true
	cfg.Queue.TimeoutSeconds = 30
	cfg.Queue.MaxRetries = 5
	cfg.Queue.BackpressureThresholdRatio = 0.8
	cfg.Queue.MaxDepth = 10000
	cfg.Queue.ResultBatchSize = 8
	cfg.Queue.Workers = 2
	cfg.LoadShed.Enabled = true
	cfg.LoadShed.MaxInFlight = 1000
	cfg.Tracker.SampleRate = 0.1
	cfg.Timeouts.ValidationMS = 100
	cfg.Timeouts.CacheLookupMS = 500
	cfg.Timeouts.RateLimitMS = 100
	cfg.Timeouts.ProviderConnectSec = 60
	cfg.Timeouts.ProviderReadSec = 30
	cfg.Timeouts.TotalRequestSec = 300
	cfg.Timeouts.HeartbeatSec = 15
	cfg.Timeouts.ShutdownSec = 30
	cfg.ProviderFanOut = 2
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Pool.GlobalMax < 1 {
		return fmt.Errorf("pool.globalMax must be >= 1, got %d", c.Pool.GlobalMax)
	}
	if c.Pool.PerUserMax < 1 {
		return fmt.Errorf("pool.perUserMax must be >= 1, got %d", c.Pool.PerUserMax)
	}
	if c.Pool.DegradedAt <= 0 || c.Pool.DegradedAt >= c.Pool.CriticalAt || c.Pool.CriticalAt >= 1 {
		return fmt.Errorf("pool thresholds must satisfy 0 < degradedAt < criticalAt < 1")
	}
	if c.Tracker.SampleRate < 0 || c.Tracker.SampleRate > 1 {
		return fmt.Errorf("tracker.sampleRate must be in [0,1], got %f", c.Tracker.SampleRate)
	}
	if c.Cache.L1MaxSize < 1 {
		return fmt.Errorf("cache.l1.maxSize must be >= 1, got %d", c.Cache.L1MaxSize)
	}
	if c.Queue.BackpressureThresholdRatio <= 0 || c.Queue.BackpressureThresholdRatio > 1 {
		return fmt.Errorf("queue.backpressureThresholdRatio must be in (0,1]")
	}
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s has no models", p.Name)
		}
	}
	return nil
}

// TierFor resolves a user ID to its rate-limit tier.
func (c *Config) TierFor(userID string) string {
	if tier, ok := c.UserTiers[userID]; ok {
		return tier
	}
	return c.DefaultTier
}

// LimitFor resolves a user ID to its per-minute request limit.
func (c *Config) LimitFor(userID string) int {
	if limit, ok := c.RateLimit[c.TierFor(userID)]; ok {
		return limit
	}
	return 60
}

// CacheTTL returns the L2 TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Runtime holds the knobs mutable through the admin config endpoint.
// Reads are frequent and writes rare, so a RWMutex guards the fields.
type Runtime struct {
	mu              sync.RWMutex
	sampleRate      float64
	cachingEnabled  bool
	failoverEnabled bool
}

// NewRuntime seeds the runtime knobs from the static configuration.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{
		sampleRate:      cfg.Tracker.SampleRate,
		cachingEnabled:  true,
		failoverEnabled: cfg.Queue.FailoverEnabled,
	}
}

// Snapshot is the JSON shape served and accepted by the admin endpoint.
type Snapshot struct {
	SampleRate      float64 `json:"sample_rate"`
	CachingEnabled  bool    `json:"caching_enabled"`
	FailoverEnabled bool    `json:"failover_enabled"`
}

// Get returns a consistent snapshot of all runtime knobs.
func (r *Runtime) Get() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		SampleRate:      r.sampleRate,
		CachingEnabled:  r.cachingEnabled,
		FailoverEnabled: r.failoverEnabled,
	}
}

// Apply validates and installs a snapshot.
func (r *Runtime) Apply(s Snapshot) error {
	if s.SampleRate < 0 || s.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be in [0,1], got %f", s.SampleRate)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sampleRate = s.SampleRate
	r.cachingEnabled = s.CachingEnabled
	r.failoverEnabled = s.FailoverEnabled
	return nil
}

// SampleRate returns the current tracker sampling rate.
func (r *Runtime) SampleRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sampleRate
}

// CachingEnabled reports whether the response cache is active.
func (r *Runtime) CachingEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cachingEnabled
}

// FailoverEnabled reports whether queue failover is active.
func (r *Runtime) FailoverEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failoverEnabled
}
