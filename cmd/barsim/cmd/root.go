package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "barsim",
	Short: "A deterministic bar-by-bar trading simulator",
	Long: `Barsim replays completed OHLC bars through a deterministic simulation
core: an execution engine that fills stops, targets, and pending orders
against the full bar range, a tiered risk engine that sizes every entry,
and a lifecycle manager for break-even, partial profits, and trailing
stops. Identical bars and configuration always produce identical results.

It provides tools for:
  - Backtesting strategies against CSV or Parquet bar archives
  - Fetching and archiving historical price data
  - Journaling trades and equity curves to CSV or SQLite`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
