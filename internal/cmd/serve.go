package cmd

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/config"
	errwrap "github.com/relaypool/relaypool/internal/errors"
	"github.com/relaypool/relaypool/internal/metrics"
	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/server"
	"github.com/relaypool/relaypool/internal/server/handlers"
	"github.com/relaypool/relaypool/internal/store"
)

// snapshotInterval is how often pool gauges and uptime are refreshed.
const snapshotInterval = 15 * time.Second

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the endpoint pool over HTTP",
	Long: `Start the HTTP server in front of the endpoint pool.

Routes:
  GET  /v1/pool                 pool status
  POST /v1/pool/{index}/probe   probe one endpoint
  POST /v1/pool/{index}/reset   reset one endpoint's metrics
  POST /v1/rpc                  run a JSON-RPC call through the pool

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (log level only; restart to change endpoints)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.Current()

		health := handlers.NewHealthManager(versionInfo.Version)

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			health.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		rt, err := newPoolRuntime(cfg)
		if err != nil {
			return err
		}
		health.RegisterChecker("pool", handlers.PoolChecker{Pool: rt.pool, MinHealthy: cfg.Health.MinHealthy})

		var history *store.Store
		if cfg.Store.Enabled {
			history, err = store.OpenAndMigrate(cmd.Context(), cfg.Store)
			if err != nil {
				return errwrap.WrapConfigInvalid(cmd.Context(), err, "snapshot store unavailable")
			}
			defer history.Close() // nolint:errcheck // best-effort cleanup on exit
			health.RegisterChecker("store", handlers.HealthCheckerFunc(func(ctx context.Context) error {
				return history.DB.PingContext(ctx)
			}))
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("endpoints", rt.pool.Size()),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		srv := server.New(server.Config{
			Host:   cfg.Server.Host,
			Port:   cfg.Server.Port,
			Health: health,
			API: &handlers.PoolAPI{
				Pool:     rt.pool,
				Executor: rt.executor,
				RPC:      rt.rpc,
				Options:  rt.options,
			},
			AdminToken:   os.Getenv(server.AdminTokenEnv),
			WriteTimeout: cfg.Server.WriteTimeout,
		})

		background, stopBackground := context.WithCancel(context.Background())
		defer stopBackground()

		if cfg.Pool.Recovery {
			go rt.pool.RunRecovery(background, cfg.Pool.RecoveryInterval)
		}
		go refreshGauges(background, rt, history, cfg.Store.Retention)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: the HTTP server stops first, the logger flushes last.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopBackground()

			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			totals := rt.executor.Totals()
			logger.Info("HTTP server stopped gracefully",
				zap.Int64("succeeded", totals.Succeeded),
				zap.Int64("failed", totals.Failed))
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			reloaded, err := loadConfig()
			if err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			observability.InitServerLogger(config.AppName, reloaded.Logging.Level, config.AppName)

			logger.Info("Configuration reloaded",
				zap.String("file", viper.ConfigFileUsed()),
				zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now().Unix())

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

// refreshGauges publishes the pool snapshot and uptime until ctx ends. With a
// store it also records each snapshot and prunes rows past retention.
func refreshGauges(ctx context.Context, rt *poolRuntime, history *store.Store, retention time.Duration) {
	started := time.Now()
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	logger := observability.Current()
	var lastPrune time.Time
	for {
		now := time.Now()
		snapshot := rt.pool.Snapshot()
		metrics.RecordSnapshot(snapshot)
		metrics.SetServerUptime(int64(now.Sub(started).Seconds()))

		if history != nil {
			if err := history.RecordSnapshot(ctx, now, snapshot); err != nil {
				logger.Warn("Failed to record pool snapshot", zap.Error(err))
			}
			if retention > 0 && now.Sub(lastPrune) >= time.Hour {
				if removed, err := history.Prune(ctx, now.Add(-retention)); err != nil {
					logger.Warn("Failed to prune snapshot history", zap.Error(err))
				} else if removed > 0 {
					logger.Debug("Pruned snapshot history", zap.Int64("rows", removed))
				}
				lastPrune = now
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().Int("metrics-port", 9090, "Prometheus exporter port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("metrics.port", serveCmd.Flags().Lookup("metrics-port"))
}
