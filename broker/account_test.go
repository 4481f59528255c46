package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextTicketSequential(t *testing.T) {
	t.Parallel()

	a := NewAccount("acct-1", "USD", 1000, 100)
	assert.Equal(t, 1000, a.NextTicket())
	assert.Equal(t, 1001, a.NextTicket())
	assert.Equal(t, 1002, a.NextTicket())
}

func TestApplyRealizedTracksStreak(t *testing.T) {
	t.Parallel()

	a := NewAccount("acct-1", "USD", 1000, 100)

	a.ApplyRealized(-10)
	a.ApplyRealized(-10)
	assert.Equal(t, 2, a.ConsecutiveLosses)
	assert.InDelta(t, 980.0, a.Balance, 1e-9)
	assert.InDelta(t, -20.0, a.DailyPL, 1e-9)

	a.ApplyRealized(5)
	assert.Equal(t, 0, a.ConsecutiveLosses, "a win resets the streak")
	assert.InDelta(t, -15.0, a.WeeklyPL, 1e-9)
}

func TestRollPeriods(t *testing.T) {
	t.Parallel()

	a := NewAccount("acct-1", "USD", 1000, 100)

	// Monday, week 2 of 2026.
	day1 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	a.RollPeriods(day1)
	a.ApplyRealized(-50)
	a.DailyTrades = 3

	// Same day: nothing resets.
	a.RollPeriods(day1.Add(4 * time.Hour))
	assert.InDelta(t, -50.0, a.DailyPL, 1e-9)
	assert.Equal(t, 3, a.DailyTrades)

	// Next day, same ISO week: daily state resets, weekly carries.
	a.RollPeriods(day1.AddDate(0, 0, 1))
	assert.Zero(t, a.DailyPL)
	assert.Zero(t, a.DailyTrades)
	assert.Zero(t, a.ConsecutiveLosses)
	assert.InDelta(t, -50.0, a.WeeklyPL, 1e-9)
	assert.InDelta(t, -50.0, a.MonthlyPL, 1e-9)

	// Next Monday: weekly resets, monthly carries.
	a.RollPeriods(day1.AddDate(0, 0, 7))
	assert.Zero(t, a.WeeklyPL)
	assert.InDelta(t, -50.0, a.MonthlyPL, 1e-9)

	// New month.
	a.RollPeriods(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	assert.Zero(t, a.MonthlyPL)
}

func TestTicketsSorted(t *testing.T) {
	t.Parallel()

	a := NewAccount("acct-1", "USD", 1000, 100)
	a.Positions[1007] = &Position{Ticket: 1007}
	a.Positions[1001] = &Position{Ticket: 1001}
	a.Positions[1004] = &Position{Ticket: 1004}
	a.Orders[1009] = &PendingOrder{Ticket: 1009}
	a.Orders[1002] = &PendingOrder{Ticket: 1002}

	assert.Equal(t, []int{1001, 1004, 1007}, a.PositionTickets())
	assert.Equal(t, []int{1002, 1009}, a.OrderTickets())
}

func TestOpenRiskAmount(t *testing.T) {
	t.Parallel()

	a := NewAccount("acct-1", "USD", 1000, 100)
	a.Positions[1000] = &Position{Side: Long, EntryPrice: 100, StopLoss: 99, Size: 2}
	a.Positions[1001] = &Position{Side: Short, EntryPrice: 50, StopLoss: 52, Size: 1}
	a.Positions[1002] = &Position{Side: Long, EntryPrice: 10, Size: 5} // no stop

	got := a.OpenRiskAmount(func(string) float64 { return 1 })
	assert.InDelta(t, 2.0+2.0, got, 1e-9)
}

func TestPositionChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pos  Position
		ok   bool
	}{
		{"valid long", Position{Side: Long, EntryPrice: 100, Size: 1, StopLoss: 99, TakeProfit: 102}, true},
		{"valid short", Position{Side: Short, EntryPrice: 100, Size: 1, StopLoss: 101, TakeProfit: 98}, true},
		{"no protective levels", Position{Side: Long, EntryPrice: 100, Size: 1}, true},
		{"long stop above entry", Position{Side: Long, EntryPrice: 100, Size: 1, StopLoss: 101}, false},
		{"short stop below entry", Position{Side: Short, EntryPrice: 100, Size: 1, StopLoss: 99}, false},
		{"long take below entry", Position{Side: Long, EntryPrice: 100, Size: 1, TakeProfit: 99}, false},
		{"zero size", Position{Side: Long, EntryPrice: 100}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.pos.CheckNew()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckAllowsBreakEvenStop(t *testing.T) {
	t.Parallel()

	// After break-even the stop sits above a long entry; only the ordering
	// against the take-profit is enforced post-mutation.
	pos := Position{Side: Long, EntryPrice: 100, Size: 1, StopLoss: 100.1, TakeProfit: 105}
	assert.NoError(t, pos.Check())

	pos.StopLoss = 106
	assert.Error(t, pos.Check(), "stop through the take-profit is never valid")
}
