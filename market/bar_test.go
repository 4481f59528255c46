package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func validBar(i int) Bar {
	return Bar{
		Time:  t0.Add(time.Duration(i) * time.Hour),
		Open:  1.10,
		High:  1.12,
		Low:   1.09,
		Close: 1.11,
	}
}

func TestBarRangeAndContains(t *testing.T) {
	t.Parallel()

	b := validBar(0)
	assert.InDelta(t, 0.03, b.Range(), 1e-12)
	assert.True(t, b.Contains(1.09), "range bounds are inclusive")
	assert.True(t, b.Contains(1.12))
	assert.False(t, b.Contains(1.1201))

	flat := Bar{Time: t0, Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1}
	assert.Zero(t, flat.Range())
	assert.True(t, flat.Contains(1.1), "a zero-range bar still contains its price")
}

func TestTrueRangeUsesPrevClose(t *testing.T) {
	t.Parallel()

	b := Bar{High: 105, Low: 100, Close: 103}
	assert.InDelta(t, 5.0, b.TrueRange(0), 1e-9, "no previous close falls back to the bar range")
	assert.InDelta(t, 10.0, b.TrueRange(95), 1e-9, "gap up extends the true range")
	assert.InDelta(t, 10.0, b.TrueRange(110), 1e-9, "gap down extends the true range")
}

func TestSeriesValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Series)
		reason string
	}{
		{"duplicate timestamp", func(s *Series) { s.Bars[1].Time = s.Bars[0].Time }, "timestamp not increasing"},
		{"out of order", func(s *Series) { s.Bars[1].Time = s.Bars[0].Time.Add(-time.Hour) }, "timestamp not increasing"},
		{"non-positive price", func(s *Series) { s.Bars[1].Low = 0 }, "non-positive price"},
		{"high below low", func(s *Series) { s.Bars[1].High = 1.0; s.Bars[1].Low = 1.2; s.Bars[1].Open = 1.1; s.Bars[1].Close = 1.1 }, "high below low"},
		{"open outside range", func(s *Series) { s.Bars[1].Open = 1.20 }, "open outside high-low range"},
		{"close outside range", func(s *Series) { s.Bars[1].Close = 1.01 }, "close outside high-low range"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &Series{
				Instrument: "EUR_USD",
				Timeframe:  "H1",
				Bars:       []Bar{validBar(0), validBar(1), validBar(2)},
			}
			require.NoError(t, s.Validate())

			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)

			var anom *AnomalyError
			require.ErrorAs(t, err, &anom)
			assert.Equal(t, 1, anom.Index)
			assert.Equal(t, tt.reason, anom.Reason)
		})
	}
}

func TestInstrumentPipAndUnitValue(t *testing.T) {
	t.Parallel()

	eur := Instruments["EUR_USD"]
	assert.InDelta(t, 0.0001, eur.Pip(), 1e-12)
	assert.InDelta(t, 100_000.0, eur.UnitValue(1.0), 1e-9)

	jpy := Instruments["USD_JPY"]
	assert.InDelta(t, 0.01, jpy.Pip(), 1e-12)
	// JPY-quoted: converting to a USD account shrinks the unit value.
	assert.InDelta(t, 100_000.0/150, jpy.UnitValue(1.0/150), 1e-6)
}

func TestInstrumentMargin(t *testing.T) {
	t.Parallel()

	eur := Instruments["EUR_USD"]

	// 1:100 leverage is looser than the 2% instrument rate; the rate wins.
	assert.InDelta(t, 2200.0, eur.Margin(1.0, 1.10, 1.0, 100), 1e-9)

	// 1:10 leverage requires more margin than the instrument does.
	assert.InDelta(t, 11_000.0, eur.Margin(1.0, 1.10, 1.0, 10), 1e-9)

	// Without a margin rate the leverage alone sets the requirement.
	plain := InstrumentMeta{Name: "TST", ContractSize: 1}
	assert.InDelta(t, 1.0, plain.Margin(1.0, 100, 1.0, 100), 1e-9)
	// And with neither, the full notional is required.
	assert.InDelta(t, 100.0, plain.Margin(1.0, 100, 1.0, 0), 1e-9)
}
