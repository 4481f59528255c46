package backtest

import (
	"time"

	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/journal"
)

// EquityPoint is one sample of the per-bar equity curve.
type EquityPoint struct {
	Time    time.Time
	Balance float64
	Equity  float64
}

// Result is the full outcome of one run: the summary metrics, the complete
// closed-trade log, and the equity curve. Two runs over the same bars and
// configuration produce identical Results.
type Result struct {
	RunID      string
	Instrument string
	Timeframe  string
	Strategy   string

	Start time.Time
	End   time.Time
	Bars  int

	Trades     int
	Wins       int
	Losses     int
	Rejections int
	Expired    int

	StartBalance float64
	EndBalance   float64
	NetPL        float64
	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDDPct     float64

	Closed []broker.ClosedTrade
	Curve  []EquityPoint
}

// summarize fills the derived metrics from the trade log and equity curve.
func (r *Result) summarize() {
	r.Trades = len(r.Closed)

	var grossWin, grossLoss float64
	for _, t := range r.Closed {
		switch {
		case t.Profit > 0:
			r.Wins++
			grossWin += t.Profit
		case t.Profit < 0:
			r.Losses++
			grossLoss += -t.Profit
		}
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossWin / grossLoss
	}

	r.NetPL = r.EndBalance - r.StartBalance
	if r.StartBalance > 0 {
		r.ReturnPct = r.NetPL / r.StartBalance * 100
	}

	var peak, maxDD float64
	for _, p := range r.Curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	r.MaxDDPct = maxDD * 100
}

// Run converts the result into the journal's run-summary record.
func (r *Result) Run(dataset string, created time.Time) journal.BacktestRun {
	return journal.BacktestRun{
		RunID:        r.RunID,
		Created:      created,
		Instrument:   r.Instrument,
		Timeframe:    r.Timeframe,
		Strategy:     r.Strategy,
		Dataset:      dataset,
		Start:        r.Start,
		End:          r.End,
		Trades:       r.Trades,
		Wins:         r.Wins,
		Losses:       r.Losses,
		Rejections:   r.Rejections,
		Expired:      r.Expired,
		StartBalance: r.StartBalance,
		EndBalance:   r.EndBalance,
		NetPL:        r.NetPL,
		ReturnPct:    r.ReturnPct,
		WinRate:      r.WinRate,
		ProfitFactor: r.ProfitFactor,
		MaxDDPct:     r.MaxDDPct,
	}
}
