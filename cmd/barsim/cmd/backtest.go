package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/barstore"
	"github.com/rustyeddy/barsim/config"
	"github.com/rustyeddy/barsim/journal"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/strategies"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a strategy against historical bars",
	Long: `Backtest replays a bar series through the simulation core.

Bars come from a CSV file (--bars) or from a Parquet archive
(--data-dir with --start/--end). Supported strategies:
  - noop:      does nothing (baseline)
  - ema-cross: fast/slow EMA crossover, market entries
  - breakout:  channel breakout, pending stop entries

Example:
  barsim backtest --bars data/eurusd_h1.csv --strategy ema-cross`,
	RunE: runBacktest,
}

var (
	btConfigPath string
	btBarsPath   string
	btDataDir    string
	btInstrument string
	btTimeframe  string
	btStart      string
	btEnd        string
	btStrategy   string
	btBalance    float64
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btConfigPath, "config", "c", "", "path to YAML/JSON config (defaults used when omitted)")
	backtestCmd.Flags().StringVarP(&btBarsPath, "bars", "t", "", "path to bar CSV (time,open,high,low,close,volume)")
	backtestCmd.Flags().StringVarP(&btDataDir, "data-dir", "d", "", "Parquet archive directory (alternative to --bars)")
	backtestCmd.Flags().StringVarP(&btInstrument, "instrument", "i", "", "instrument (overrides config)")
	backtestCmd.Flags().StringVar(&btTimeframe, "timeframe", "H1", "bar timeframe label")
	backtestCmd.Flags().StringVar(&btStart, "start", "", "archive range start (RFC3339), with --data-dir")
	backtestCmd.Flags().StringVar(&btEnd, "end", "", "archive range end (RFC3339), with --data-dir")
	backtestCmd.Flags().StringVarP(&btStrategy, "strategy", "s", "ema-cross", "strategy name (noop, ema-cross, breakout)")
	backtestCmd.Flags().Float64VarP(&btBalance, "balance", "b", 0, "starting balance (overrides config)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if btConfigPath != "" {
		var err error
		cfg, err = config.LoadFromFile(btConfigPath)
		if err != nil {
			return err
		}
	}
	if btInstrument != "" {
		cfg.Instrument = btInstrument
	}
	if btBalance > 0 {
		cfg.Account.Balance = btBalance
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	series, dataset, err := loadSeries(cfg)
	if err != nil {
		return err
	}

	src := strategies.ForName(btStrategy)
	if src == nil {
		return fmt.Errorf("unknown strategy %q (supported: noop, ema-cross, breakout)", btStrategy)
	}

	jnl, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer jnl.Close()

	runner := backtest.New(cfg, src, jnl, slog.Default())
	result, err := runner.Run(cmd.Context(), series)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	run := result.Run(dataset, time.Now().UTC())
	if err := jnl.RecordRun(run); err != nil {
		slog.Warn("journal run summary failed", "err", err)
	}

	printRun(os.Stdout, run)
	return nil
}

func loadSeries(cfg *config.Config) (*market.Series, string, error) {
	switch {
	case btBarsPath != "":
		s, err := barstore.ReadCSV(btBarsPath, cfg.Instrument, btTimeframe)
		return s, btBarsPath, err

	case btDataDir != "":
		if btStart == "" || btEnd == "" {
			return nil, "", fmt.Errorf("--data-dir requires --start and --end")
		}
		start, err := time.Parse(time.RFC3339, btStart)
		if err != nil {
			return nil, "", fmt.Errorf("bad --start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, btEnd)
		if err != nil {
			return nil, "", fmt.Errorf("bad --end: %w", err)
		}
		store := barstore.NewParquetStore(btDataDir)
		s, err := store.ReadBars(cfg.Instrument, btTimeframe, start, end)
		return s, btDataDir, err

	default:
		return nil, "", fmt.Errorf("either --bars or --data-dir is required")
	}
}

func openJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.DBPath)
	case "csv":
		return journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
	default:
		return journal.Nop{}, nil
	}
}

func printRun(w io.Writer, r journal.BacktestRun) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "Instrument:    %s\n", r.Instrument)
	fmt.Fprintf(w, "Timeframe:     %s\n", r.Timeframe)
	fmt.Fprintf(w, "Dataset:       %s\n", r.Dataset)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(w, "Rejections:    %d\n", r.Rejections)
	fmt.Fprintf(w, "Expired:       %d\n", r.Expired)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %.2f\n", r.StartBalance)
	fmt.Fprintf(w, "End Balance:   %.2f\n", r.EndBalance)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", r.NetPL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", r.ReturnPct)

	if r.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", r.ProfitFactor)
	}
	if r.MaxDDPct > 0 {
		fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDDPct)
	}
	fmt.Fprintln(w)
}
