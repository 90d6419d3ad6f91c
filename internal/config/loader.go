// Package config loads relaypool configuration through viper and decodes it
// into typed structs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/relaypool/relaypool/internal/pool"
)

const (
	// AppName names the config directory and the binary.
	AppName = "relaypool"
	// EnvPrefix prefixes every environment override, e.g. RELAYPOOL_SERVER_PORT.
	EnvPrefix = "RELAYPOOL"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every known key so environment overrides resolve
// through AllSettings.
func SetDefaults(v *viper.Viper) {
	def := pool.DefaultSettings()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("pool.failure_threshold", def.FailureThreshold)
	v.SetDefault("pool.backoff_base", def.BackoffBase.String())
	v.SetDefault("pool.cooldown", def.Cooldown.String())
	v.SetDefault("pool.backoff_cap", def.BackoffCap.String())
	v.SetDefault("pool.max_concurrent", def.MaxConcurrent)
	v.SetDefault("pool.probe_method", def.ProbeMethod)
	v.SetDefault("pool.probe_timeout", def.ProbeTimeout.String())
	v.SetDefault("pool.recovery_interval", def.RecoveryInterval.String())
	v.SetDefault("pool.log_every", def.LogEvery)
	v.SetDefault("pool.endpoints", []any{})
	v.SetDefault("pool.endpoints_file", "")
	v.SetDefault("pool.recovery", true)

	v.SetDefault("call.timeout", pool.DefaultTimeout.String())
	v.SetDefault("call.max_retries", pool.DefaultMaxRetries)
	v.SetDefault("call.rate_limit_backoff_base", pool.DefaultRateLimitBackoffBase.String())
	v.SetDefault("call.mark_unhealthy_on_429_threshold", 0)
	v.SetDefault("call.commitment", "")

	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.min_healthy", 1)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.retention", "168h")
}

// BindEnv wires RELAYPOOL_* variables onto nested keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// AddConfigPaths points v at an explicit file, or at the XDG config directory
// and ./config otherwise.
func AddConfigPaths(v *viper.Viper, explicit string) {
	if explicit != "" {
		v.SetConfigFile(explicit)
		return
	}

	if dir := gfconfig.GetAppConfigDir(AppName); dir != "" {
		v.AddConfigPath(dir)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, "."+AppName))
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// Load decodes the resolved viper settings into a Config and stores it as the
// current configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setConfig(cfg)
	return cfg, nil
}

// Decode converts a settings map into a Config.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Pool.Settings = cfg.Pool.Settings.WithDefaults()
	cfg.Pool.EndpointsFile = strings.TrimSpace(cfg.Pool.EndpointsFile)
	cfg.Call.Commitment = strings.ToLower(strings.TrimSpace(cfg.Call.Commitment))
	if strings.TrimSpace(cfg.Store.Path) == "" && strings.TrimSpace(cfg.Store.URL) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", pool.ErrConfiguration, c.Server.Port)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("%w: metrics.port %d out of range", pool.ErrConfiguration, c.Metrics.Port)
	}
	if c.Call.Timeout < 0 {
		return fmt.Errorf("%w: call.timeout must not be negative", pool.ErrConfiguration)
	}
	if c.Call.MaxRetries < 0 {
		return fmt.Errorf("%w: call.max_retries must not be negative", pool.ErrConfiguration)
	}
	switch c.Call.Commitment {
	case "", "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("%w: unknown call.commitment %q", pool.ErrConfiguration, c.Call.Commitment)
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	dir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the history database.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
