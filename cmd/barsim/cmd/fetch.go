package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/barsim/barstore"
	"github.com/rustyeddy/barsim/market"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download historical ticks and archive them as bars",
	Long: `Fetch downloads hourly tick archives from the Dukascopy datafeed,
aggregates them into OHLC bars, and writes the result to a CSV file or a
Parquet archive. Missing hours (weekends, holidays) are skipped.

Example:
  barsim fetch -i EUR_USD --start 2026-01-05T00 --end 2026-01-10T00 \
    --timeframe 1h --out data/eurusd_h1.csv`,
	RunE: runFetch,
}

var (
	fetchInstrument string
	fetchStart      string
	fetchEnd        string
	fetchTimeframe  time.Duration
	fetchLabel      string
	fetchOut        string
	fetchDataDir    string
	fetchSleep      time.Duration
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchInstrument, "instrument", "i", "EUR_USD", "instrument to fetch")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "start hour (UTC) like 2026-01-05T00 (required)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "end hour (UTC, exclusive) like 2026-01-10T00 (required)")
	fetchCmd.Flags().DurationVar(&fetchTimeframe, "timeframe", time.Hour, "bar duration, e.g. 5m, 1h")
	fetchCmd.Flags().StringVar(&fetchLabel, "label", "H1", "timeframe label stored with the bars")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "CSV output path")
	fetchCmd.Flags().StringVarP(&fetchDataDir, "data-dir", "d", "", "Parquet archive directory")
	fetchCmd.Flags().DurationVar(&fetchSleep, "sleep", 50*time.Millisecond, "polite delay between requests")

	fetchCmd.MarkFlagRequired("start")
	fetchCmd.MarkFlagRequired("end")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if fetchOut == "" && fetchDataDir == "" {
		return fmt.Errorf("either --out or --data-dir is required")
	}
	if _, ok := market.Instruments[fetchInstrument]; !ok {
		return fmt.Errorf("unknown instrument %s", fetchInstrument)
	}

	t0, err := time.ParseInLocation("2006-01-02T15", fetchStart, time.UTC)
	if err != nil {
		return fmt.Errorf("bad --start: %w", err)
	}
	t1, err := time.ParseInLocation("2006-01-02T15", fetchEnd, time.UTC)
	if err != nil {
		return fmt.Errorf("bad --end: %w", err)
	}
	if !t1.After(t0) {
		return fmt.Errorf("--end must be after --start")
	}

	client := barstore.NewDukasClient()
	ctx := cmd.Context()

	var ticks []barstore.Tick
	var hours, missing int
	for t := t0; t.Before(t1); t = t.Add(time.Hour) {
		time.Sleep(fetchSleep)

		hourTicks, err := client.FetchHour(ctx, fetchInstrument, t)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", t.Format("2006-01-02T15"), err)
		}
		hours++
		if len(hourTicks) == 0 {
			missing++
			continue
		}
		ticks = append(ticks, hourTicks...)
		slog.Debug("fetched hour", "hour", t.Format("2006-01-02T15"), "ticks", len(hourTicks))
	}

	series := barstore.AggregateTicks(ticks, fetchInstrument, fetchLabel, fetchTimeframe)
	slog.Info("fetch complete",
		"instrument", fetchInstrument,
		"hours", hours, "missing", missing,
		"ticks", len(ticks), "bars", len(series.Bars))

	if len(series.Bars) == 0 {
		return fmt.Errorf("no ticks in range")
	}

	if fetchOut != "" {
		if err := barstore.WriteCSV(fetchOut, series); err != nil {
			return err
		}
		fmt.Printf("Wrote %d bars to %s\n", len(series.Bars), fetchOut)
	}
	if fetchDataDir != "" {
		store := barstore.NewParquetStore(fetchDataDir)
		if err := store.WriteBars(series); err != nil {
			return err
		}
		fmt.Printf("Archived %d bars under %s\n", len(series.Bars), fetchDataDir)
	}
	return nil
}
