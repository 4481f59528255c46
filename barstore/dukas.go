package barstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"github.com/rustyeddy/barsim/market"
)

const dukasBase = "https://datafeed.dukascopy.com/datafeed"

// Tick is one parsed Dukascopy tick.
type Tick struct {
	Time   time.Time
	Bid    float64
	Ask    float64
	BidVol float64
	AskVol float64
}

// DukasClient downloads hourly tick archives from the Dukascopy datafeed.
// The feed serves one LZMA-compressed .bi5 file per symbol and UTC hour.
type DukasClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewDukasClient() *DukasClient {
	return &DukasClient{
		BaseURL: dukasBase,
		HTTP:    &http.Client{Timeout: 45 * time.Second},
	}
}

// FetchHour downloads and decodes the ticks for one UTC hour. A missing
// hour (weekend, holiday) returns no ticks and no error.
func (c *DukasClient) FetchHour(ctx context.Context, instrument string, hour time.Time) ([]Tick, error) {
	meta, ok := market.Instruments[instrument]
	if !ok {
		return nil, fmt.Errorf("unknown instrument %s", instrument)
	}
	hour = hour.UTC().Truncate(time.Hour)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tickURL(instrument, hour), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "barsim-fetch/"+"0.3")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	lz, err := lzma.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}

	// Dukascopy quotes in tenth-pips for FX.
	scale := meta.Pip() / 10
	return parseTicks(lz, hour, scale)
}

// tickURL builds the feed path. Dukascopy uses a zero-based month.
func (c *DukasClient) tickURL(instrument string, hour time.Time) string {
	symbol := strings.ReplaceAll(instrument, "_", "")
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(c.BaseURL, "/"),
		symbol,
		hour.Year(), int(hour.Month())-1, hour.Day(), hour.Hour())
}

// parseTicks decodes the fixed 20-byte big-endian tick records: millisecond
// offset into the hour, scaled ask, scaled bid, ask volume, bid volume.
func parseTicks(r io.Reader, hour time.Time, scale float64) ([]Tick, error) {
	var ticks []Tick
	rec := make([]byte, 20)

	for {
		if _, err := io.ReadFull(r, rec); err != nil {
			if err == io.EOF {
				return ticks, nil
			}
			if err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("truncated tick record at offset %d", len(ticks)*20)
			}
			return nil, err
		}

		ms := binary.BigEndian.Uint32(rec[0:4])
		ask := binary.BigEndian.Uint32(rec[4:8])
		bid := binary.BigEndian.Uint32(rec[8:12])
		askVol := math.Float32frombits(binary.BigEndian.Uint32(rec[12:16]))
		bidVol := math.Float32frombits(binary.BigEndian.Uint32(rec[16:20]))

		ticks = append(ticks, Tick{
			Time:   hour.Add(time.Duration(ms) * time.Millisecond),
			Bid:    float64(bid) * scale,
			Ask:    float64(ask) * scale,
			BidVol: float64(bidVol),
			AskVol: float64(askVol),
		})
	}
}

// AggregateTicks rolls mid-price ticks into OHLC bars of the given
// duration. Buckets with no ticks produce no bar.
func AggregateTicks(ticks []Tick, instrument, label string, tf time.Duration) *market.Series {
	series := &market.Series{Instrument: instrument, Timeframe: label}
	if len(ticks) == 0 {
		return series
	}

	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })

	var cur *market.Bar
	var bucket time.Time
	for _, t := range ticks {
		mid := (t.Bid + t.Ask) / 2
		vol := t.BidVol + t.AskVol
		b := t.Time.Truncate(tf)

		if cur == nil || !b.Equal(bucket) {
			if cur != nil {
				series.Bars = append(series.Bars, *cur)
			}
			bucket = b
			cur = &market.Bar{
				Time:      b,
				Open:      mid,
				High:      mid,
				Low:       mid,
				Close:     mid,
				Volume:    vol,
				Timeframe: label,
			}
			continue
		}

		if mid > cur.High {
			cur.High = mid
		}
		if mid < cur.Low {
			cur.Low = mid
		}
		cur.Close = mid
		cur.Volume += vol
	}
	series.Bars = append(series.Bars, *cur)
	return series
}
