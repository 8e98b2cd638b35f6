// ABOUTME: Configuration loading and parsing for coven-toolpool
// ABOUTME: YAML service config with env expansion plus a TOML target catalog

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-toolpool/internal/pool"
	"github.com/2389/coven-toolpool/internal/transport"
)

// Config represents the complete coven-toolpool service configuration.
type Config struct {
	Targets TargetsConfig `yaml:"targets"`
	Pool    PoolSettings  `yaml:"pool"` // global defaults, overridable per target
	Status  StatusConfig  `yaml:"status"`
	Logging LoggingConfig `yaml:"logging"`
}

// TargetsConfig points at the TOML target catalog.
type TargetsConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig controls the periodic status report.
type StatusConfig struct {
	Interval time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PoolSettings is the user-facing shape of pool.Config. Pointer and string
// fields distinguish "not set" from zero so per-target overrides only
// replace what they name. The same struct unmarshals from the YAML service
// config (global defaults) and from TOML catalog entries (overrides).
type PoolSettings struct {
	MinConnections          *int `yaml:"min_connections" toml:"min_connections"`
	MaxConnections          *int `yaml:"max_connections" toml:"max_connections"`
	RetryAttempts           *int `yaml:"retry_attempts" toml:"retry_attempts"`
	BreakerFailureThreshold *int `yaml:"breaker_failure_threshold" toml:"breaker_failure_threshold"`

	MaxIdleRaw                string `yaml:"max_idle" toml:"max_idle"`
	ConnectTimeoutRaw         string `yaml:"connect_timeout" toml:"connect_timeout"`
	AcquireTimeoutRaw         string `yaml:"acquire_timeout" toml:"acquire_timeout"`
	HealthCheckIntervalRaw    string `yaml:"health_check_interval" toml:"health_check_interval"`
	RetryBaseDelayRaw         string `yaml:"retry_base_delay" toml:"retry_base_delay"`
	BreakerRecoveryTimeoutRaw string `yaml:"breaker_recovery_timeout" toml:"breaker_recovery_timeout"`
}

// Apply layers these settings on top of base and returns the result.
// Unset fields keep the base value.
func (s PoolSettings) Apply(base pool.Config) (pool.Config, error) {
	cfg := base

	if s.MinConnections != nil {
		cfg.MinSize = *s.MinConnections
	}
	if s.MaxConnections != nil {
		cfg.MaxSize = *s.MaxConnections
	}
	if s.RetryAttempts != nil {
		cfg.RetryAttempts = *s.RetryAttempts
	}
	if s.BreakerFailureThreshold != nil {
		cfg.BreakerFailureThreshold = *s.BreakerFailureThreshold
	}

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{s.MaxIdleRaw, "max_idle", &cfg.MaxIdle},
		{s.ConnectTimeoutRaw, "connect_timeout", &cfg.ConnectTimeout},
		{s.AcquireTimeoutRaw, "acquire_timeout", &cfg.AcquireTimeout},
		{s.HealthCheckIntervalRaw, "health_check_interval", &cfg.HealthCheckInterval},
		{s.RetryBaseDelayRaw, "retry_base_delay", &cfg.RetryBaseDelay},
		{s.BreakerRecoveryTimeoutRaw, "breaker_recovery_timeout", &cfg.BreakerRecoveryTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return pool.Config{}, fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// TargetEntry describes one tool server in the TOML catalog.
type TargetEntry struct {
	Kind    string            `toml:"kind"`
	Address string            `toml:"address"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	Pool    PoolSettings      `toml:"pool"`
}

// Descriptor converts the catalog entry into a transport descriptor.
func (e TargetEntry) Descriptor() transport.Descriptor {
	var env []string
	for k, v := range e.Env {
		env = append(env, k+"="+v)
	}
	return transport.Descriptor{
		Kind:    e.Kind,
		Address: e.Address,
		Command: e.Command,
		Args:    e.Args,
		Env:     env,
	}
}

// Load reads the service configuration from the given path. Environment
// variables in the format ${VAR_NAME} are expanded, duration strings are
// parsed, and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadTargets reads the TOML target catalog. Environment variables in the
// format ${VAR_NAME} are expanded before decoding.
func LoadTargets(path string) (map[string]TargetEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading target catalog: %w", err)
	}

	var catalog struct {
		Targets map[string]TargetEntry `toml:"targets"`
	}
	if _, err := toml.Decode(expandEnvVars(string(data)), &catalog); err != nil {
		return nil, fmt.Errorf("parsing target catalog: %w", err)
	}

	for name, entry := range catalog.Targets {
		if entry.Kind == "" {
			return nil, fmt.Errorf("target %s: kind is required", name)
		}
		switch entry.Kind {
		case "grpc":
			if entry.Address == "" {
				return nil, fmt.Errorf("target %s: address is required for grpc", name)
			}
		case "stdio":
			if entry.Command == "" {
				return nil, fmt.Errorf("target %s: command is required for stdio", name)
			}
		}
	}

	return catalog.Targets, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that required configuration fields are present.
func (c *Config) Validate() error {
	if c.Targets.Path == "" {
		return fmt.Errorf("targets.path is required")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Status.Interval == 0 {
		c.Status.Interval = time.Minute
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Status.IntervalRaw != "" {
		v, err := time.ParseDuration(cfg.Status.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing status.interval %q: %w", cfg.Status.IntervalRaw, err)
		}
		cfg.Status.Interval = v
	}
	return nil
}

// PoolDefaults resolves the global pool settings over the built-in
// defaults.
func (c *Config) PoolDefaults() (pool.Config, error) {
	return c.Pool.Apply(pool.DefaultConfig())
}

// ResolvePool resolves the effective pool config for one catalog entry:
// built-in defaults, then the service-level pool block, then the entry's
// own overrides.
func (c *Config) ResolvePool(entry TargetEntry) (pool.Config, error) {
	base, err := c.PoolDefaults()
	if err != nil {
		return pool.Config{}, err
	}
	return entry.Pool.Apply(base)
}
