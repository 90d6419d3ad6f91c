package cmd

import (
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/config"
	"github.com/relaypool/relaypool/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Resilient RPC client pool",
	Long: `relaypool spreads read-only RPC traffic over a pool of upstream endpoints,
backing off endpoints that fail or rate limit and retrying on the next one.

Use the subcommands to serve the pool over HTTP or to query it directly.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so CLI runs never emit metrics to stdout.
	// Server mode initializes the Prometheus-backed system later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/relaypool/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	v := viper.GetViper()
	config.SetDefaults(v)
	config.BindEnv(v)
	config.AddConfigPaths(v, cfgFile)

	err := v.ReadInConfig()
	switch err.(type) {
	case nil:
		observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	case viper.ConfigFileNotFoundError:
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	default:
		observability.CLILogger.Warn("Error reading config file", zap.Error(err))
	}
}
