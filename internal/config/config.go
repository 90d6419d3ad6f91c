package config

import (
	"time"

	"github.com/relaypool/relaypool/internal/pool"
)

// Config represents the complete application configuration. Values come from
// defaults, then the config file, then RELAYPOOL_* environment variables,
// then command-line flags.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Call    CallConfig    `mapstructure:"call"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Store   StoreConfig   `mapstructure:"store"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PoolConfig holds the pool tunables and where the endpoint list comes from.
// Inline endpoints come first, then the entries of EndpointsFile.
type PoolConfig struct {
	pool.Settings `mapstructure:",squash"`

	Endpoints     []pool.EndpointSpec `mapstructure:"endpoints"`
	EndpointsFile string              `mapstructure:"endpoints_file"`
	Recovery      bool                `mapstructure:"recovery"`
}

// CallConfig holds the executor defaults applied to every pooled call.
type CallConfig struct {
	Timeout                     time.Duration `mapstructure:"timeout"`
	MaxRetries                  int           `mapstructure:"max_retries"`
	RateLimitBackoffBase        time.Duration `mapstructure:"rate_limit_backoff_base"`
	MarkUnhealthyOn429Threshold int64         `mapstructure:"mark_unhealthy_on_429_threshold"`
	Commitment                  string        `mapstructure:"commitment"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Port is the dedicated Prometheus exporter port; /metrics on the main
	// port proxies it.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// MinHealthy is the number of healthy endpoints readiness requires.
	MinHealthy int `mapstructure:"min_healthy"`
}

// StoreConfig points at the libsql database that keeps snapshot history.
type StoreConfig struct {
	// Enabled makes serve record a snapshot on every gauge refresh.
	Enabled   bool          `mapstructure:"enabled"`
	Driver    string        `mapstructure:"driver"`
	Path      string        `mapstructure:"path"`
	URL       string        `mapstructure:"url"`
	AuthToken string        `mapstructure:"auth_token"`
	Retention time.Duration `mapstructure:"retention"`
}

// Source returns the endpoint source described by the pool section.
func (p PoolConfig) Source() pool.Source {
	var sources pool.CombinedSource
	if len(p.Endpoints) > 0 {
		sources = append(sources, pool.StaticSource(p.Endpoints))
	}
	if p.EndpointsFile != "" {
		sources = append(sources, pool.FileSource{Path: p.EndpointsFile})
	}
	return sources
}

// Options converts the call section into executor options.
func (c CallConfig) Options() pool.Options {
	return pool.Options{
		Timeout:                     c.Timeout,
		MaxRetries:                  c.MaxRetries,
		RateLimitBackoffBase:        c.RateLimitBackoffBase,
		MarkUnhealthyOn429Threshold: c.MarkUnhealthyOn429Threshold,
	}
}
