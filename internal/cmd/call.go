package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/observability"
	"github.com/relaypool/relaypool/internal/pool"
	"github.com/relaypool/relaypool/internal/rpc"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Run one JSON-RPC call through the pool",
	Example: `  relaypool call getSlot
  relaypool call getBalance '["Vote111111111111111111111111111111111111111"]'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params any
		if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("params must be JSON: %w", err)
			}
		}

		rt, err := loadPoolRuntime()
		if err != nil {
			return err
		}
		result, err := rt.rpc.Call(cmd.Context(), args[0], params, callOptions(cmd, rt))
		logTotals(rt)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Typed read-only chain queries",
}

var querySlotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Current slot and block height",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadPoolRuntime()
		if err != nil {
			return err
		}
		opts := callOptions(cmd, rt)

		slot, err := rt.rpc.GetSlot(cmd.Context(), opts)
		if err != nil {
			return err
		}
		height, err := rt.rpc.GetBlockHeight(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return printValue(map[string]uint64{"slot": slot, "block_height": height})
	},
}

var queryAccountCmd = &cobra.Command{
	Use:   "account <address> [address...]",
	Short: "Raw account records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadPoolRuntime()
		if err != nil {
			return err
		}
		opts := callOptions(cmd, rt)

		if len(args) == 1 {
			res, err := rt.rpc.GetAccountInfo(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printValue(map[string]any{"slot": res.Slot, "value": res.Value})
		}

		accounts, err := rt.rpc.GetMultipleAccounts(cmd.Context(), args, opts)
		logTotals(rt)
		if err != nil {
			return err
		}
		return printValue(accounts)
	},
}

var querySignaturesCmd = &cobra.Command{
	Use:   "signatures <address>",
	Short: "Transaction history of an address, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		before, _ := cmd.Flags().GetString("before")
		until, _ := cmd.Flags().GetString("until")

		rt, err := loadPoolRuntime()
		if err != nil {
			return err
		}
		sigs, err := rt.rpc.GetSignaturesForAddress(cmd.Context(), rpc.SignaturesQuery{
			Address: args[0],
			Before:  before,
			Until:   until,
			Limit:   limit,
		}, callOptions(cmd, rt))
		logTotals(rt)
		if err != nil && len(sigs) == 0 {
			return err
		}
		if printErr := printValue(sigs); printErr != nil {
			return printErr
		}
		return err
	},
}

var queryTxCmd = &cobra.Command{
	Use:   "tx <signature>",
	Short: "Raw transaction by signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadPoolRuntime()
		if err != nil {
			return err
		}
		tx, err := rt.rpc.GetTransaction(cmd.Context(), args[0], callOptions(cmd, rt))
		if err != nil {
			return err
		}
		return printJSON(tx)
	},
}

// callOptions overlays the per-invocation flags on the configured defaults.
func callOptions(cmd *cobra.Command, rt *poolRuntime) pool.Options {
	opts := rt.options
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		opts.Timeout = timeout
	}
	if cmd.Flags().Changed("retries") {
		retries, _ := cmd.Flags().GetInt("retries")
		if retries <= 0 {
			retries = pool.NoRetries
		}
		opts.MaxRetries = retries
	}
	if commitment, _ := cmd.Flags().GetString("commitment"); commitment != "" {
		rt.rpc.Commitment = strings.ToLower(commitment)
	}
	return opts
}

func logTotals(rt *poolRuntime) {
	totals := rt.executor.Totals()
	observability.CLILogger.Debug("Pool totals",
		zap.Int64("succeeded", totals.Succeeded),
		zap.Int64("failed", totals.Failed),
		zap.Int("healthy", rt.pool.HealthyCount()))
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, werr := fmt.Fprintln(os.Stdout, string(raw))
		return werr
	}
	_, err := fmt.Fprintln(os.Stdout, buf.String())
	return err
}

func printValue(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

func addCallFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "per-attempt timeout (default call.timeout)")
	cmd.Flags().Int("retries", 0, "retries after the first attempt (0 disables; default call.max_retries)")
	cmd.Flags().String("commitment", "", "commitment level: processed, confirmed, finalized")
}

func init() {
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(querySlotCmd, queryAccountCmd, querySignaturesCmd, queryTxCmd)

	for _, c := range []*cobra.Command{callCmd, querySlotCmd, queryAccountCmd, querySignaturesCmd, queryTxCmd} {
		addCallFlags(c)
	}
	querySignaturesCmd.Flags().Int("limit", 0, "entries to collect across pages (0 fetches one page)")
	querySignaturesCmd.Flags().String("before", "", "start before this signature")
	querySignaturesCmd.Flags().String("until", "", "stop at this signature")

}
