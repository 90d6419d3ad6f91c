package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/relaypool/relaypool/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured endpoints and their state",
	Long: `Load the endpoint list and print each endpoint's state.

A fresh process has no traffic history, so --probe runs a liveness call
against every endpoint first; failing endpoints show as unhealthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadPoolRuntime()
		if err != nil {
			return err
		}

		probe, _ := cmd.Flags().GetBool("probe")
		if probe {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			rt.pool.ProbeAll(cmd.Context(), rt.probeTimeout(timeout), nil)
		}

		totals := rt.executor.Totals()
		status := &output.PoolStatus{
			GeneratedAt: time.Now().UTC(),
			Size:        rt.pool.Size(),
			Healthy:     rt.pool.HealthyCount(),
			Totals:      &totals,
			Endpoints:   rt.pool.Snapshot(),
		}
		return writeOutput(cmd, func(f output.Formatter) (string, error) {
			return f.FormatStatus(status)
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addOutputFlags(statusCmd)
	statusCmd.Flags().Bool("probe", false, "probe every endpoint before reporting")
	statusCmd.Flags().Duration("timeout", 0, "per-endpoint probe timeout (default pool.probe_timeout)")
}
