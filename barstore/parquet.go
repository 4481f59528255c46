package barstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/rustyeddy/barsim/market"
)

// ParquetStore archives bar series as Parquet files on disk, one file per
// instrument, timeframe, and year:
//
//	<DataDir>/<INSTRUMENT>/<timeframe>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
}

func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema.
type barRecord struct {
	Instrument string  `parquet:"instrument"`
	Timeframe  string  `parquet:"timeframe"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     float64 `parquet:"volume"`
}

// WriteBars merges the series into the archive. Existing bars with the same
// timestamp are replaced, so re-fetching a window is idempotent.
func (s *ParquetStore) WriteBars(series *market.Series) error {
	if len(series.Bars) == 0 {
		return nil
	}

	groups := make(map[int][]barRecord)
	for _, b := range series.Bars {
		rec := barRecord{
			Instrument: series.Instrument,
			Timeframe:  series.Timeframe,
			Timestamp:  b.Time.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
		}
		y := b.Time.UTC().Year()
		groups[y] = append(groups[y], rec)
	}

	for year, records := range groups {
		path := s.path(series.Instrument, series.Timeframe, year)

		// Merge with what is already archived for this year.
		existing, _ := parquet.ReadFile[barRecord](path)
		merged := mergeRecords(existing, records)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := parquet.WriteFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", series.Instrument, year, err)
		}
	}
	return nil
}

// ReadBars loads the archived bars for [start, end] inclusive, ordered by
// timestamp, and validates the result.
func (s *ParquetStore) ReadBars(instrument, timeframe string, start, end time.Time) (*market.Series, error) {
	series := &market.Series{Instrument: instrument, Timeframe: timeframe}

	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.path(instrument, timeframe, year)
		records, err := parquet.ReadFile[barRecord](path)
		if err != nil {
			// No archive for this year.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			series.Bars = append(series.Bars, market.Bar{
				Time:      ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
				Timeframe: timeframe,
			})
		}
	}

	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

func (s *ParquetStore) path(instrument, timeframe string, year int) string {
	return filepath.Join(s.DataDir, instrument, timeframe, fmt.Sprintf("%d.parquet", year))
}

// mergeRecords deduplicates by timestamp, preferring incoming records, and
// returns the union sorted by timestamp.
func mergeRecords(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
