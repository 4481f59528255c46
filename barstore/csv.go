// Package barstore reads and writes bar series. CSV is the interchange
// format for small datasets and fixtures; Parquet is the archive format for
// anything larger.
package barstore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/barsim/market"
)

var csvHeader = []string{"time", "open", "high", "low", "close", "volume"}

// ReadCSV loads a bar series from a CSV file with a header row of
// time,open,high,low,close,volume and RFC3339 timestamps. The series is
// validated before it is returned.
func ReadCSV(path, instrument, timeframe string) (*market.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars file: %w", err)
	}
	defer f.Close()

	series, err := readCSV(f, instrument, timeframe)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return series, nil
}

func readCSV(r io.Reader, instrument, timeframe string) (*market.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, want := range csvHeader {
		if header[i] != want {
			return nil, fmt.Errorf("unexpected header column %d: got %q, want %q", i, header[i], want)
		}
	}

	series := &market.Series{Instrument: instrument, Timeframe: timeframe}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		t, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp: %w", line, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s: %w", line, csvHeader[i+1], err)
			}
			vals[i] = v
		}

		series.Bars = append(series.Bars, market.Bar{
			Time:      t.UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			Timeframe: timeframe,
		})
	}

	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

// WriteCSV writes the series in the format ReadCSV accepts.
func WriteCSV(path string, series *market.Series) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create bars file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range series.Bars {
		row := []string{
			b.Time.UTC().Format(time.RFC3339),
			fmtFloat(b.Open),
			fmtFloat(b.High),
			fmtFloat(b.Low),
			fmtFloat(b.Close),
			fmtFloat(b.Volume),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
