package broker

import (
	"fmt"
	"time"
)

// Side: +1 long, -1 short
type Side int8

const (
	Long  Side = +1
	Short Side = -1
)

func (s Side) Sign() float64 {
	return float64(s)
}

func (s Side) String() string {
	if s == Long {
		return "LONG"
	}
	return "SHORT"
}

// PartialClose records one executed partial exit of a position.
type PartialClose struct {
	Price    float64
	Fraction float64 // fraction of the size that was open at the time
	Time     time.Time
}

// Position is one open trade. Created by the execution engine on an entry
// fill, mutated in place by the lifecycle manager between bars, and removed
// when fully closed.
type Position struct {
	Ticket     int
	Instrument string
	Side       Side
	EntryPrice float64
	Size       float64 // lots
	StopLoss   float64 // 0 means none
	TakeProfit float64 // 0 means none
	OpenTime   time.Time
	Commission float64 // charged at open, realized on final close

	// Lifecycle state. Transitions are monotonic: break-even is applied at
	// most once, fired partial levels never re-fire, the trailing stop only
	// ever tightens.
	Partials         []PartialClose
	FiredLevels      []float64 // partial-profit thresholds already taken
	BreakEvenApplied bool
	TrailingActive   bool
	HighWater        float64 // best close in the profitable direction
	HighWaterPct     float64 // best unrealized profit percent seen
}

// UnrealizedPL returns the open profit in account currency at mark, given
// the account-currency value of a one-unit price move for 1.0 lot.
func (p *Position) UnrealizedPL(mark, unitValue float64) float64 {
	return p.Side.Sign() * (mark - p.EntryPrice) * p.Size * unitValue
}

// ProfitPct returns unrealized profit as a percent of entry price.
func (p *Position) ProfitPct(mark float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Side.Sign() * (mark - p.EntryPrice) / p.EntryPrice * 100
}

// LevelFired reports whether a partial-profit threshold was already taken.
func (p *Position) LevelFired(pct float64) bool {
	for _, v := range p.FiredLevels {
		if v == pct {
			return true
		}
	}
	return false
}

// InvariantError reports a position whose protective levels ended up on the
// wrong side. This must never happen with correct lifecycle logic; the
// driver halts the run when it does.
type InvariantError struct {
	Ticket int
	Msg    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("position %d invariant violated: %s", e.Ticket, e.Msg)
}

// CheckNew validates a freshly created position: size positive, stop on the
// loss side of entry and take-profit on the profit side.
func (p *Position) CheckNew() error {
	if p.Size <= 0 {
		return &InvariantError{Ticket: p.Ticket, Msg: "non-positive size"}
	}
	if p.StopLoss > 0 {
		if p.Side == Long && p.StopLoss >= p.EntryPrice {
			return &InvariantError{Ticket: p.Ticket, Msg: "long stop at or above entry"}
		}
		if p.Side == Short && p.StopLoss <= p.EntryPrice {
			return &InvariantError{Ticket: p.Ticket, Msg: "short stop at or below entry"}
		}
	}
	if p.TakeProfit > 0 {
		if p.Side == Long && p.TakeProfit <= p.EntryPrice {
			return &InvariantError{Ticket: p.Ticket, Msg: "long take-profit at or below entry"}
		}
		if p.Side == Short && p.TakeProfit >= p.EntryPrice {
			return &InvariantError{Ticket: p.Ticket, Msg: "short take-profit at or above entry"}
		}
	}
	return nil
}

// Check validates a position after a lifecycle mutation. Break-even and
// trailing legitimately move the stop to or past entry, so only the
// ordering of stop vs. take-profit and the size are enforced here.
func (p *Position) Check() error {
	if p.Size <= 0 {
		return &InvariantError{Ticket: p.Ticket, Msg: "non-positive size"}
	}
	if p.StopLoss > 0 && p.TakeProfit > 0 {
		if p.Side == Long && p.StopLoss >= p.TakeProfit {
			return &InvariantError{Ticket: p.Ticket, Msg: "long stop at or above take-profit"}
		}
		if p.Side == Short && p.StopLoss <= p.TakeProfit {
			return &InvariantError{Ticket: p.Ticket, Msg: "short stop at or below take-profit"}
		}
	}
	return nil
}
