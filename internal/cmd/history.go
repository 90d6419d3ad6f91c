package cmd

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/output"
	"github.com/relaypool/relaypool/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show pool snapshots recorded by serve",
	Long: `Print snapshots recorded while serve ran with store.enabled set.

Snapshots are shown newest first; --limit counts snapshots, not endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		history, err := store.OpenAndMigrate(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer history.Close() // nolint:errcheck // best-effort cleanup

		endpoint, _ := cmd.Flags().GetString("endpoint")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		q := store.HistoryQuery{Endpoint: endpoint, Limit: limit}
		if since > 0 {
			q.Since = time.Now().Add(-since)
		}
		snapshots, err := history.History(cmd.Context(), q)
		if err != nil {
			return err
		}
		observability.CLILogger.Debug("Loaded snapshot history", zap.Int("snapshots", len(snapshots)))

		return writeOutput(cmd, func(f output.Formatter) (string, error) {
			return renderHistory(f, snapshots)
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			olderThan = cfg.Store.Retention
		}

		history, err := store.OpenAndMigrate(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer history.Close() // nolint:errcheck // best-effort cleanup

		removed, err := history.Prune(cmd.Context(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		observability.CLILogger.Info("Pruned snapshot history",
			zap.Int64("rows", removed),
			zap.Duration("older_than", olderThan))
		return nil
	},
}

// renderHistory renders each snapshot with the status formatter. JSON output
// is a single array.
func renderHistory(f output.Formatter, snapshots []store.Snapshot) (string, error) {
	if _, ok := f.(*output.JSONFormatter); ok {
		if snapshots == nil {
			snapshots = []store.Snapshot{}
		}
		data, err := json.MarshalIndent(snapshots, "", "  ")
		return string(data), err
	}
	if len(snapshots) == 0 {
		return "No snapshots recorded.", nil
	}

	parts := make([]string, 0, len(snapshots))
	for _, snap := range snapshots {
		healthy := 0
		for _, ep := range snap.Endpoints {
			if ep.Healthy {
				healthy++
			}
		}
		text, err := f.FormatStatus(&output.PoolStatus{
			GeneratedAt: snap.TakenAt,
			Size:        len(snap.Endpoints),
			Healthy:     healthy,
			Endpoints:   snap.Endpoints,
		})
		if err != nil {
			return "", err
		}
		parts = append(parts, snap.TakenAt.Format(time.RFC3339)+"\n"+text)
	}
	return strings.Join(parts, "\n"), nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPruneCmd)
	addOutputFlags(historyCmd)
	historyCmd.Flags().String("endpoint", "", "only rows for this endpoint name")
	historyCmd.Flags().Int("limit", 10, "snapshots to show (0 for all)")
	historyCmd.Flags().Duration("since", 0, "only snapshots newer than this age")
	historyPruneCmd.Flags().Duration("older-than", 0, "age cutoff (default store.retention)")
}
