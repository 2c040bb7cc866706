package health

import (
	"context"
	"time"
)

// Result represents the outcome of a single readiness check.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface every readiness probe implements.
type Checker interface {
	// Check performs the probe and returns the result.
	Check(ctx context.Context) Result

	// Name identifies the dependency being probed.
	Name() string
}

// Config contains common configuration for readiness probes.
type Config struct {
	// Timeout is the maximum time to wait for one probe to complete.
	Timeout time.Duration

	// Retries is the number of consecutive failures before a dependency is
	// reported unhealthy.
	Retries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Retries: 3,
	}
}

// Status tracks the rolling health of one dependency.
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that assumes health until proven otherwise.
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new probe result into the status.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
