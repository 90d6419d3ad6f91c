package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/relaypool/relaypool/internal/errors"
	"github.com/relaypool/relaypool/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the configuration loads and the endpoint list resolves to a usable pool.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(logger, ExitCodeFor(err), "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		logger.Info("✅ Configuration loaded")

		rt, err := newPoolRuntime(cfg)
		if err != nil {
			ExitWithCode(logger, ExitCodeFor(err), "Endpoint list unusable", errwrap.WrapConfigInvalid(cmd.Context(), err, "endpoint list unusable"))
			return
		}
		logger.Info("✅ Endpoint list loaded", zap.Int("endpoints", rt.pool.Size()))

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
