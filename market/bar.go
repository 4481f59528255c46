// Package market holds the price-data primitives the simulator consumes:
// OHLC bars, validated bar series, and the instrument metadata table.
package market

import (
	"fmt"
	"time"
)

// Bar is one completed OHLC candle. The simulator only ever sees completed
// bars in strict timestamp order; intra-bar paths are unknown by design.
type Bar struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Time      time.Time
	Timeframe string
}

// Range is the bar's full high-low extent. A zero-range bar is legal; it
// still triggers any stop or target sitting exactly at its price.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Contains reports whether price falls inside the bar's traded range,
// bounds included.
func (b Bar) Contains(price float64) bool {
	return price >= b.Low && price <= b.High
}

// TrueRange is the Wilder true range given the previous bar's close.
func (b Bar) TrueRange(prevClose float64) float64 {
	tr := b.Range()
	if prevClose > 0 {
		if d := b.High - prevClose; d > tr {
			tr = d
		}
		if d := prevClose - b.Low; d > tr {
			tr = d
		}
	}
	return tr
}

// AnomalyError marks a malformed bar in a series. The driver halts the run
// on one rather than simulating fiction.
type AnomalyError struct {
	Index  int
	Time   time.Time
	Reason string
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("bar %d at %s: %s", e.Index, e.Time.Format(time.RFC3339), e.Reason)
}

// Series is an ordered run of bars for one instrument and timeframe.
type Series struct {
	Instrument string
	Timeframe  string
	Bars       []Bar
}

// Validate checks the series invariants the simulator relies on: strictly
// increasing timestamps, positive prices, and high/low bracketing open and
// close. The first violation is returned as an AnomalyError.
func (s *Series) Validate() error {
	var prev time.Time
	for i, b := range s.Bars {
		if !prev.IsZero() && !b.Time.After(prev) {
			return &AnomalyError{Index: i, Time: b.Time, Reason: "timestamp not increasing"}
		}
		prev = b.Time

		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return &AnomalyError{Index: i, Time: b.Time, Reason: "non-positive price"}
		}
		if b.High < b.Low {
			return &AnomalyError{Index: i, Time: b.Time, Reason: "high below low"}
		}
		if b.Open > b.High || b.Open < b.Low {
			return &AnomalyError{Index: i, Time: b.Time, Reason: "open outside high-low range"}
		}
		if b.Close > b.High || b.Close < b.Low {
			return &AnomalyError{Index: i, Time: b.Time, Reason: "close outside high-low range"}
		}
	}
	return nil
}
