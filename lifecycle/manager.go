// Package lifecycle mutates open positions between bars: break-even,
// partial profit taking, trailing stops, and time-based exits. Decisions
// are made on a completed bar and executed by the next bar's engine pass,
// so a position state used within one bar is never altered mid-evaluation.
package lifecycle

import (
	"time"

	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/market"
)

// PartialLevel closes ClosePct percent of the remaining size once
// unrealized profit reaches ProfitPct percent of entry. Each level fires
// at most once per position.
type PartialLevel struct {
	ProfitPct float64
	ClosePct  float64
}

// Config is the frozen lifecycle policy for a run.
type Config struct {
	BreakEvenEnabled       bool
	BreakEvenActivationPct float64 // unrealized profit % that arms break-even
	BreakEvenBufferPct     float64 // stop lands at entry plus this % buffer

	PartialEnabled bool
	PartialLevels  []PartialLevel // must be ordered by ProfitPct ascending

	TrailingEnabled       bool
	TrailingActivationPct float64
	TrailingDistancePct   float64 // trail this % behind the high-water mark
	TrailingStepPct       float64 // minimum improvement before the stop moves

	MaxHold time.Duration // 0 disables the time exit
}

// Default mirrors the standard-tier management parameters.
func Default() Config {
	return Config{
		BreakEvenEnabled:       true,
		BreakEvenActivationPct: 0.5,
		BreakEvenBufferPct:     0.1,
		PartialEnabled:         true,
		PartialLevels: []PartialLevel{
			{ProfitPct: 1.0, ClosePct: 30},
			{ProfitPct: 2.0, ClosePct: 30},
			{ProfitPct: 3.0, ClosePct: 40},
		},
		TrailingEnabled:       true,
		TrailingActivationPct: 1.0,
		TrailingDistancePct:   0.5,
		TrailingStepPct:       0.25,
		MaxHold:               24 * time.Hour,
	}
}

// Actions is what one position wants done before the next bar.
type Actions struct {
	NewStop       float64 // 0 means no stop change
	PartialCloses []PartialClose
	Exit          bool
	ExitReason    string
}

type PartialClose struct {
	Fraction float64
	Reason   string
}

func (a Actions) Empty() bool {
	return a.NewStop == 0 && len(a.PartialCloses) == 0 && !a.Exit
}

// Advance evaluates one open position against a completed bar and returns
// the mutations to queue. It updates only the position's bookkeeping state
// (high-water marks, fired levels, the break-even latch); price-effective
// changes happen when the engine executes the returned actions.
//
// Transitions are monotonic: break-even is never reversed, fired partial
// levels never re-fire, and the trailing stop only ever tightens.
func Advance(pos *broker.Position, bar market.Bar, cfg Config) Actions {
	var acts Actions

	mark := bar.Close
	profitPct := pos.ProfitPct(mark)

	// High-water tracking feeds the trailing stop.
	if pos.Side == broker.Long && mark > pos.HighWater {
		pos.HighWater = mark
	}
	if pos.Side == broker.Short && mark < pos.HighWater {
		pos.HighWater = mark
	}
	if profitPct > pos.HighWaterPct {
		pos.HighWaterPct = profitPct
	}

	// Time exit overrides everything else.
	if cfg.MaxHold > 0 && bar.Time.Sub(pos.OpenTime) >= cfg.MaxHold {
		acts.Exit = true
		acts.ExitReason = broker.ReasonTimeExit
		return acts
	}

	if cfg.PartialEnabled {
		for _, lvl := range cfg.PartialLevels {
			if profitPct >= lvl.ProfitPct && !pos.LevelFired(lvl.ProfitPct) {
				pos.FiredLevels = append(pos.FiredLevels, lvl.ProfitPct)
				acts.PartialCloses = append(acts.PartialCloses, PartialClose{
					Fraction: lvl.ClosePct / 100,
					Reason:   broker.ReasonPartialProfit,
				})
			}
		}
	}

	if cfg.BreakEvenEnabled && !pos.BreakEvenApplied && profitPct >= cfg.BreakEvenActivationPct {
		buffered := pos.EntryPrice * (1 + pos.Side.Sign()*cfg.BreakEvenBufferPct/100)
		if tightens(pos, buffered) && insideTarget(pos, buffered) {
			pos.BreakEvenApplied = true
			acts.NewStop = buffered
		}
	}

	// Trailing arms off the best profit seen, not the current bar's, so a
	// pullback below the activation threshold never disarms it.
	if cfg.TrailingEnabled && !pos.TrailingActive && pos.HighWaterPct >= cfg.TrailingActivationPct {
		pos.TrailingActive = true
	}
	if cfg.TrailingEnabled && pos.TrailingActive {
		dist := pos.HighWater * cfg.TrailingDistancePct / 100
		trailed := pos.HighWater - pos.Side.Sign()*dist

		// Move in steps: skip churn below the minimum improvement.
		minStep := pos.EntryPrice * cfg.TrailingStepPct / 100
		if tightens(pos, trailed) && insideTarget(pos, trailed) && improvement(pos, trailed) >= minStep {
			if acts.NewStop == 0 || tighter(pos.Side, trailed, acts.NewStop) {
				acts.NewStop = trailed
			}
		}
	}

	return acts
}

// tightens reports whether a candidate stop is strictly better than the
// current one for the position's direction. A stop never loosens.
func tightens(pos *broker.Position, stop float64) bool {
	if pos.StopLoss == 0 {
		return true
	}
	return tighter(pos.Side, stop, pos.StopLoss)
}

// insideTarget keeps a proposed stop strictly on the entry side of the
// take-profit so the stop/target ordering invariant survives the edit.
func insideTarget(pos *broker.Position, stop float64) bool {
	if pos.TakeProfit == 0 {
		return true
	}
	if pos.Side == broker.Long {
		return stop < pos.TakeProfit
	}
	return stop > pos.TakeProfit
}

func tighter(side broker.Side, a, b float64) bool {
	if side == broker.Long {
		return a > b
	}
	return a < b
}

func improvement(pos *broker.Position, stop float64) float64 {
	if pos.StopLoss == 0 {
		return stop // effectively unbounded improvement
	}
	d := pos.Side.Sign() * (stop - pos.StopLoss)
	if d < 0 {
		return 0
	}
	return d
}
