package risk

import "github.com/rustyeddy/barsim/broker"

// statsWindow bounds how much history feeds the estimates; older trades
// stop describing the current regime.
const statsWindow = 100

// Stats summarizes closed-trade history for sizing feedback. It is a pure
// projection of the append-only trade log.
type Stats struct {
	Trades  int
	Wins    int
	Losses  int
	WinRate float64
	AvgWin  float64 // mean winning profit, positive
	AvgLoss float64 // mean losing loss, positive
}

// ComputeStats summarizes the most recent closed trades.
func ComputeStats(closed []broker.ClosedTrade) Stats {
	if len(closed) > statsWindow {
		closed = closed[len(closed)-statsWindow:]
	}

	var s Stats
	var winSum, lossSum float64
	for _, t := range closed {
		s.Trades++
		if t.Profit > 0 {
			s.Wins++
			winSum += t.Profit
		} else {
			s.Losses++
			lossSum += -t.Profit
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	if s.Wins > 0 {
		s.AvgWin = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = lossSum / float64(s.Losses)
	}
	return s
}

// Kelly returns the full Kelly fraction
//
//	kelly = (winRate*avgWin - (1-winRate)*avgLoss) / avgWin
//
// or 0 when the inputs cannot support an estimate. A negative edge also
// yields 0; the caller then falls back to the tier's base risk.
func (s Stats) Kelly() float64 {
	if s.WinRate <= 0 || s.WinRate >= 1 || s.AvgWin <= 0 || s.AvgLoss <= 0 {
		return 0
	}
	k := (s.WinRate*s.AvgWin - (1-s.WinRate)*s.AvgLoss) / s.AvgWin
	if k < 0 {
		return 0
	}
	return k
}
