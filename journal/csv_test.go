package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCSV(t *testing.T) (*CSVJournal, string, string) {
	t.Helper()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)
	return j, tradesPath, equityPath
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWritesHeaders(t *testing.T) {
	t.Parallel()

	j, tradesPath, equityPath := newTestCSV(t)
	require.NoError(t, j.Close())

	trades := readAll(t, tradesPath)
	require.Len(t, trades, 1)
	assert.Equal(t, "run_id", trades[0][0])
	assert.Equal(t, "reason", trades[0][len(trades[0])-1])

	equity := readAll(t, equityPath)
	require.Len(t, equity, 1)
	assert.Equal(t, []string{"run_id", "time", "balance", "equity", "margin_used", "free_margin"}, equity[0])
}

func TestCSVRecordsRows(t *testing.T) {
	t.Parallel()

	j, tradesPath, equityPath := newTestCSV(t)

	openT := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(TradeRecord{
		RunID:      "run-1",
		Ticket:     1000,
		Instrument: "EUR_USD",
		Side:       "SHORT",
		Size:       0.05,
		EntryPrice: 1.1,
		ExitPrice:  1.09,
		OpenTime:   openT,
		CloseTime:  openT.Add(3 * time.Hour),
		Profit:     50,
		Reason:     "TakeProfit",
	}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		RunID: "run-1", Time: openT, Balance: 1000, Equity: 1050, FreeMargin: 1044.5, MarginUsed: 5.5,
	}))
	require.NoError(t, j.Close())

	trades := readAll(t, tradesPath)
	require.Len(t, trades, 2)
	row := trades[1]
	assert.Equal(t, "run-1", row[0])
	assert.Equal(t, "1000", row[1])
	assert.Equal(t, "SHORT", row[3])
	assert.Equal(t, "2026-01-05T09:00:00Z", row[7])
	assert.Equal(t, "TakeProfit", row[11])

	equity := readAll(t, equityPath)
	require.Len(t, equity, 2)
	assert.Equal(t, "1050", equity[1][3])
}

func TestCSVIgnoresRunSummaries(t *testing.T) {
	t.Parallel()

	j, _, _ := newTestCSV(t)
	t.Cleanup(func() { _ = j.Close() })

	assert.NoError(t, j.RecordRun(BacktestRun{RunID: "run-1"}))
}
