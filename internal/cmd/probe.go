package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/metrics"
	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/output"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a liveness call against every endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadPoolRuntime()
		if err != nil {
			return err
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		results := rt.pool.ProbeAll(cmd.Context(), rt.probeTimeout(timeout), nil)

		failed := 0
		for _, r := range results {
			metrics.RecordProbe(r.Name, r.OK, r.Duration)
			if !r.OK {
				failed++
			}
		}
		observability.CLILogger.Debug("Probe sweep finished",
			zap.Int("endpoints", len(results)),
			zap.Int("failed", failed))

		if err := writeOutput(cmd, func(f output.Formatter) (string, error) {
			return f.FormatProbes(results)
		}); err != nil {
			return err
		}

		strict, _ := cmd.Flags().GetBool("strict")
		if strict && failed > 0 {
			return fmt.Errorf("%d of %d endpoints failed the probe", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	addOutputFlags(probeCmd)
	probeCmd.Flags().Duration("timeout", 0, "per-endpoint probe timeout (default pool.probe_timeout)")
	probeCmd.Flags().Bool("strict", false, "exit non-zero when any endpoint fails")
}
