// ABOUTME: Immutable per-target pool configuration with validation and defaults.
// ABOUTME: One Config per target server; the manager layers overrides on these defaults.

package pool

import (
	"fmt"
	"time"
)

// Config is the immutable configuration of one target's pool.
type Config struct {
	// MinSize is the number of connections warmed at startup.
	MinSize int
	// MaxSize bounds the total connections, in use plus idle.
	MaxSize int
	// MaxIdle is how long an idle connection survives before the health
	// monitor reaps it. Zero disables idle reaping.
	MaxIdle time.Duration
	// ConnectTimeout bounds each individual connection attempt.
	ConnectTimeout time.Duration
	// AcquireTimeout is the default wait used by AcquireFor when the pool
	// is at capacity.
	AcquireTimeout time.Duration
	// HealthCheckInterval is the health monitor's cycle period.
	HealthCheckInterval time.Duration
	// RetryAttempts is the number of connection tries per acquire, with
	// exponential backoff between them.
	RetryAttempts int
	// RetryBaseDelay is the backoff before the second try; it doubles for
	// each try after that.
	RetryBaseDelay time.Duration
	// BreakerFailureThreshold is the consecutive-failure count that opens
	// the circuit.
	BreakerFailureThreshold int
	// BreakerRecoveryTimeout is how long the circuit stays open before a
	// half-open trial.
	BreakerRecoveryTimeout time.Duration
}

// DefaultConfig returns the global defaults applied before any per-target
// overrides.
func DefaultConfig() Config {
	return Config{
		MinSize:                 0,
		MaxSize:                 10,
		MaxIdle:                 5 * time.Minute,
		ConnectTimeout:          10 * time.Second,
		AcquireTimeout:          5 * time.Second,
		HealthCheckInterval:     30 * time.Second,
		RetryAttempts:           3,
		RetryBaseDelay:          100 * time.Millisecond,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  30 * time.Second,
	}
}

// Validate checks the structural invariants: 0 <= MinSize <= MaxSize and
// non-negative durations.
func (c Config) Validate() error {
	if c.MinSize < 0 {
		return fmt.Errorf("min_size must be >= 0, got %d", c.MinSize)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("max_size must be >= 1, got %d", c.MaxSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("min_size %d exceeds max_size %d", c.MinSize, c.MaxSize)
	}
	for name, d := range map[string]time.Duration{
		"max_idle":                 c.MaxIdle,
		"connect_timeout":          c.ConnectTimeout,
		"acquire_timeout":          c.AcquireTimeout,
		"health_check_interval":    c.HealthCheckInterval,
		"retry_base_delay":         c.RetryBaseDelay,
		"breaker_recovery_timeout": c.BreakerRecoveryTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1, got %d", c.RetryAttempts)
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker_failure_threshold must be >= 1, got %d", c.BreakerFailureThreshold)
	}
	return nil
}
