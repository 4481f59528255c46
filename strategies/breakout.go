package strategies

import (
	"time"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/indicators"
	"github.com/rustyeddy/barsim/market"
)

// Breakout places stop entries a tick beyond the highest high or lowest low
// of the lookback window, so entries fill only if the next bars actually
// break the range. Orders carry a validity window and lapse unfilled when
// the breakout never comes.
type Breakout struct {
	Lookback int
	StopATR  float64
	RR       float64
	Validity time.Duration // pending-order lifetime

	atr    *indicators.ATR
	highs  []float64
	lows   []float64
	cursor int
	filled bool // ring buffer has Lookback samples
}

func NewBreakout(lookback int) *Breakout {
	s := &Breakout{
		Lookback: lookback,
		StopATR:  1.5,
		RR:       2.0,
		Validity: 12 * time.Hour,
	}
	s.Reset()
	return s
}

func (s *Breakout) Name() string { return "breakout" }

func (s *Breakout) Reset() {
	s.atr = indicators.NewATR(14)
	s.highs = make([]float64, s.Lookback)
	s.lows = make([]float64, s.Lookback)
	s.cursor = 0
	s.filled = false
}

func (s *Breakout) OnBar(bar market.Bar) *backtest.Signal {
	var sig *backtest.Signal
	if s.filled && s.atr.Ready() {
		sig = s.signal(bar)
	}

	s.highs[s.cursor] = bar.High
	s.lows[s.cursor] = bar.Low
	s.cursor++
	if s.cursor == s.Lookback {
		s.cursor = 0
		s.filled = true
	}
	s.atr.Update(bar)

	return sig
}

// signal proposes a long stop order above the channel when the close sits
// in the upper half of the range, a short stop below it otherwise. The
// window high/low excludes the current bar.
func (s *Breakout) signal(bar market.Bar) *backtest.Signal {
	hi, lo := s.highs[0], s.lows[0]
	for i := 1; i < s.Lookback; i++ {
		if s.highs[i] > hi {
			hi = s.highs[i]
		}
		if s.lows[i] < lo {
			lo = s.lows[i]
		}
	}
	width := hi - lo
	if width <= 0 {
		return nil
	}
	if bar.High >= hi || bar.Low <= lo {
		// Already broken out; too late for a breakout entry.
		return nil
	}

	atr := s.atr.Value()
	tick := atr * 0.1

	side := broker.Long
	trigger := hi + tick
	if bar.Close-lo < hi-bar.Close {
		side = broker.Short
		trigger = lo - tick
	}

	stopDist := s.StopATR * atr
	stop := trigger - side.Sign()*stopDist
	target := trigger + side.Sign()*stopDist*s.RR

	// Tighter channels relative to volatility score higher.
	quality := 10 * atr * float64(s.Lookback) / width
	if quality > 10 {
		quality = 10
	}

	return &backtest.Signal{
		Side:    side,
		Type:    broker.OrderStop,
		Entry:   trigger,
		Stop:    stop,
		Target:  target,
		Quality: quality,
		Expiry:  bar.Time.Add(s.Validity),
	}
}
