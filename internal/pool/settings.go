package pool

import (
	"strings"
	"time"
)

// Settings are the global pool tunables. Per-endpoint overrides in the
// endpoint list fall back to these values.
type Settings struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	BackoffCap       time.Duration `mapstructure:"backoff_cap"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	ProbeMethod      string        `mapstructure:"probe_method"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	LogEvery         int           `mapstructure:"log_every"`
}

// Default tunables.
const (
	DefaultFailureThreshold = 100
	DefaultBackoffBase      = 500 * time.Millisecond
	DefaultCooldown         = 10 * time.Second
	DefaultBackoffCap       = 60 * time.Second
	DefaultMaxConcurrent    = 4
	DefaultProbeMethod      = "getHealth"
	DefaultProbeTimeout     = 5 * time.Second
	DefaultRecoveryInterval = 15 * time.Second
	DefaultLogEvery         = 20
)

// failureCap bounds the failure counter.
const failureCap = 10_000

// DefaultSettings returns the built-in tunables.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: DefaultFailureThreshold,
		BackoffBase:      DefaultBackoffBase,
		Cooldown:         DefaultCooldown,
		BackoffCap:       DefaultBackoffCap,
		MaxConcurrent:    DefaultMaxConcurrent,
		ProbeMethod:      DefaultProbeMethod,
		ProbeTimeout:     DefaultProbeTimeout,
		RecoveryInterval: DefaultRecoveryInterval,
		LogEvery:         DefaultLogEvery,
	}
}

// WithDefaults fills zero or invalid values from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	def := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = def.FailureThreshold
	}
	if s.FailureThreshold > failureCap {
		s.FailureThreshold = failureCap
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = def.BackoffBase
	}
	if s.Cooldown <= 0 {
		s.Cooldown = def.Cooldown
	}
	if s.BackoffCap <= 0 {
		s.BackoffCap = def.BackoffCap
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = def.MaxConcurrent
	}
	s.ProbeMethod = strings.TrimSpace(s.ProbeMethod)
	if s.ProbeMethod == "" {
		s.ProbeMethod = def.ProbeMethod
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = def.ProbeTimeout
	}
	if s.RecoveryInterval <= 0 {
		s.RecoveryInterval = def.RecoveryInterval
	}
	if s.LogEvery <= 0 {
		s.LogEvery = def.LogEvery
	}
	return s
}

// resolve applies the global defaults to one endpoint entry.
func (s Settings) resolve(spec EndpointSpec) EndpointConfig {
	cfg := EndpointConfig{
		Name:          strings.TrimSpace(spec.Name),
		URL:           strings.TrimSpace(spec.URL),
		SecondaryURL:  strings.TrimSpace(spec.SecondaryURL),
		MaxConcurrent: spec.MaxConcurrent,
		Cooldown:      spec.Cooldown,
		BackoffBase:   spec.BackoffBase,
		RateLimitRPS:  spec.RateLimitRPS,
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = s.MaxConcurrent
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = s.Cooldown
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = s.BackoffBase
	}
	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	return cfg
}
