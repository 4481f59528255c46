package broker

import (
	"sort"
	"time"
)

// Exit reasons recorded on closed trades.
const (
	ReasonStopLoss      = "StopLoss"
	ReasonTakeProfit    = "TakeProfit"
	ReasonTimeExit      = "TimeExit"
	ReasonPartialProfit = "PartialProfit"
	ReasonEndOfData     = "EndOfData"
	ReasonManualClose   = "ManualClose"
)

// ClosedTrade is an immutable record of one exit (full or partial).
// The append-only log is the source of truth for performance metrics and
// for the risk engine's win-rate and streak feedback.
type ClosedTrade struct {
	Ticket     int
	Instrument string
	Side       Side
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	Profit     float64 // account currency, net of commission
	Commission float64
	ExitReason string
}

// Account is the full simulated account state. It is owned exclusively by
// the simulation driver and passed by pointer into each engine call; only
// the execution engine (fills) and the lifecycle manager (stop edits,
// partial closes) mutate it. It is never shared across concurrent runs.
type Account struct {
	ID       string
	Currency string
	Leverage float64 // e.g. 100 for 1:100; bounds margin, never scales size

	Balance    float64
	Equity     float64
	MarginUsed float64
	FreeMargin float64

	Positions map[int]*Position
	Orders    map[int]*PendingOrder
	Closed    []ClosedTrade

	// Realized P&L accumulators, reset on calendar rollovers.
	DailyPL   float64
	WeeklyPL  float64
	MonthlyPL float64

	ConsecutiveLosses int
	DailyTrades       int

	nextTicket int
	day        time.Time // start of the current UTC day
}

func NewAccount(id, currency string, balance, leverage float64) *Account {
	if leverage <= 0 {
		leverage = 1
	}
	return &Account{
		ID:         id,
		Currency:   currency,
		Leverage:   leverage,
		Balance:    balance,
		Equity:     balance,
		FreeMargin: balance,
		Positions:  make(map[int]*Position),
		Orders:     make(map[int]*PendingOrder),
		nextTicket: 1000,
	}
}

// NextTicket hands out sequential tickets so replays of the same bar
// sequence produce byte-identical trade logs.
func (a *Account) NextTicket() int {
	t := a.nextTicket
	a.nextTicket++
	return t
}

// RollPeriods resets the daily/weekly/monthly accumulators when now has
// crossed into a new UTC day, ISO week, or month. The consecutive-loss halt
// and the daily trade count also reset on the day boundary.
func (a *Account) RollPeriods(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if a.day.IsZero() {
		a.day = day
		return
	}
	if day.Equal(a.day) {
		return
	}

	prev := a.day
	a.day = day

	a.DailyPL = 0
	a.DailyTrades = 0
	a.ConsecutiveLosses = 0

	py, pw := prev.ISOWeek()
	ny, nw := day.ISOWeek()
	if py != ny || pw != nw {
		a.WeeklyPL = 0
	}
	if prev.Month() != day.Month() || prev.Year() != day.Year() {
		a.MonthlyPL = 0
	}
}

// ApplyRealized posts a realized profit or loss to the balance, the period
// accumulators, and the loss streak. Balance changes only through here.
func (a *Account) ApplyRealized(profit float64) {
	a.Balance += profit
	a.DailyPL += profit
	a.WeeklyPL += profit
	a.MonthlyPL += profit

	if profit < 0 {
		a.ConsecutiveLosses++
	} else {
		a.ConsecutiveLosses = 0
	}
}

// OpenRiskAmount is the account-currency loss if every open position's stop
// is hit, used by the portfolio-exposure shrink in the risk engine.
// unitValue converts a one-unit price move for 1.0 lot.
func (a *Account) OpenRiskAmount(unitValue func(instrument string) float64) float64 {
	var sum float64
	for _, p := range a.Positions {
		if p.StopLoss <= 0 {
			continue
		}
		dist := p.EntryPrice - p.StopLoss
		if dist < 0 {
			dist = -dist
		}
		sum += dist * p.Size * unitValue(p.Instrument)
	}
	return sum
}

// PositionTickets returns open tickets in ascending order. Engines iterate
// positions through this so runs stay deterministic.
func (a *Account) PositionTickets() []int {
	out := make([]int, 0, len(a.Positions))
	for t := range a.Positions {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// OrderTickets returns pending-order tickets in ascending order.
func (a *Account) OrderTickets() []int {
	out := make([]int, 0, len(a.Orders))
	for t := range a.Orders {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}
