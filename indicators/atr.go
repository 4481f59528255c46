package indicators

import (
	"fmt"

	"github.com/rustyeddy/barsim/market"
)

// ATR is a streaming Average True Range indicator. The execution engine
// feeds it one bar at a time and reads the value back when scaling spread
// and slippage with volatility.
type ATR struct {
	period    int
	atr       float64
	count     int
	warmupSum float64
	prevClose float64
	hasPrev   bool
}

// NewATR creates a streaming ATR with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

// Warmup reports how many bars are needed before Ready.
// TR requires a previous close, hence period+1.
func (a *ATR) Warmup() int {
	return a.period + 1
}

func (a *ATR) Reset() {
	a.atr = 0
	a.count = 0
	a.warmupSum = 0
	a.prevClose = 0
	a.hasPrev = false
}

func (a *ATR) Update(b market.Bar) {
	if !a.hasPrev {
		a.prevClose = b.Close
		a.hasPrev = true
		return
	}

	tr := b.TrueRange(a.prevClose)

	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
	} else {
		// Wilder's smoothing
		a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
	}

	a.prevClose = b.Close
}

func (a *ATR) Ready() bool {
	return a.count >= a.period
}

// Value returns the current ATR, or 0 until Ready.
func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}
