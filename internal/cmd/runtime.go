package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/config"
	"github.com/relaypool/relaypool/internal/metrics"
	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/pool"
	"github.com/relaypool/relaypool/internal/rpc"
)

// poolRuntime is the wired pool shared by every command that talks upstream.
type poolRuntime struct {
	cfg      *config.Config
	pool     *pool.Pool
	executor *pool.Executor
	rpc      *rpc.Client
	options  pool.Options
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newPoolRuntime loads the endpoint list and fails when it is empty.
func newPoolRuntime(cfg *config.Config) (*poolRuntime, error) {
	logger := observability.Current()

	source := cfg.Pool.Source()
	p := pool.New(pool.Config{
		Source:   source,
		Settings: cfg.Pool.Settings,
		Logger:   logger,
	})
	if p.Size() == 0 {
		if _, err := source.Endpoints(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: no endpoints configured (set pool.endpoints or pool.endpoints_file)", pool.ErrConfiguration)
	}

	exec := pool.NewExecutor(p, logger)
	exec.OnAttempt = metrics.RecordAttempt

	client := rpc.New(exec)
	client.Commitment = cfg.Call.Commitment

	logger.Debug("Pool ready",
		zap.Int("endpoints", p.Size()),
		zap.Int("max_concurrent", cfg.Pool.MaxConcurrent),
		zap.Duration("cooldown", cfg.Pool.Cooldown))

	return &poolRuntime{
		cfg:      cfg,
		pool:     p,
		executor: exec,
		rpc:      client,
		options:  cfg.Call.Options(),
	}, nil
}

func loadPoolRuntime() (*poolRuntime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newPoolRuntime(cfg)
}

func (rt *poolRuntime) probeTimeout(flag time.Duration) time.Duration {
	if flag > 0 {
		return flag
	}
	return rt.pool.Settings().ProbeTimeout
}
