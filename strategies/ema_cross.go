// Package strategies holds the built-in signal sources. They exist to feed
// the simulator deterministic entries; none of them is investment advice.
package strategies

import (
	"math"

	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/indicators"
	"github.com/rustyeddy/barsim/market"
)

// EMACross signals market entries on a fast/slow EMA crossover with an
// ATR-scaled stop. Quality scales with the separation of the averages at
// the cross, normalized by ATR, so stronger crosses score higher.
type EMACross struct {
	FastPeriod int
	SlowPeriod int
	StopATR    float64 // stop distance in ATR multiples
	RR         float64 // take-profit multiple of the stop distance

	fast *indicators.EMA
	slow *indicators.EMA
	atr  *indicators.ATR

	lastDiff     float64
	haveLastDiff bool
}

func NewEMACross(fast, slow int) *EMACross {
	s := &EMACross{
		FastPeriod: fast,
		SlowPeriod: slow,
		StopATR:    2.0,
		RR:         2.0,
	}
	s.Reset()
	return s
}

func (s *EMACross) Name() string { return "ema-cross" }

func (s *EMACross) Reset() {
	s.fast = indicators.NewEMA(s.FastPeriod)
	s.slow = indicators.NewEMA(s.SlowPeriod)
	s.atr = indicators.NewATR(14)
	s.lastDiff = 0
	s.haveLastDiff = false
}

func (s *EMACross) OnBar(bar market.Bar) *backtest.Signal {
	s.fast.Update(bar.Close)
	s.slow.Update(bar.Close)
	s.atr.Update(bar)

	if !s.fast.Ready() || !s.slow.Ready() || !s.atr.Ready() {
		return nil
	}

	diff := s.fast.Value() - s.slow.Value()
	defer func() {
		s.lastDiff = diff
		s.haveLastDiff = true
	}()

	if !s.haveLastDiff {
		return nil
	}
	crossedUp := s.lastDiff <= 0 && diff > 0
	crossedDown := s.lastDiff >= 0 && diff < 0
	if !crossedUp && !crossedDown {
		return nil
	}

	atr := s.atr.Value()
	if atr <= 0 {
		return nil
	}

	side := broker.Long
	if crossedDown {
		side = broker.Short
	}
	stopDist := s.StopATR * atr
	stop := bar.Close - side.Sign()*stopDist
	target := bar.Close + side.Sign()*stopDist*s.RR

	// Separation in ATRs, clamped to a 0-10 score.
	quality := math.Abs(diff) / atr * 10
	if quality > 10 {
		quality = 10
	}

	return &backtest.Signal{
		Side:    side,
		Type:    broker.OrderMarket,
		Stop:    stop,
		Target:  target,
		Quality: quality,
	}
}
