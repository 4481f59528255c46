package journal

import "time"

// TradeRecord is one closed trade (full or partial exit) as journaled.
type TradeRecord struct {
	RunID      string
	Ticket     int
	Instrument string
	Side       string
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	Profit     float64
	Commission float64
	Reason     string
}

// EquitySnapshot is the per-bar account state.
type EquitySnapshot struct {
	RunID      string
	Time       time.Time
	Balance    float64
	Equity     float64
	MarginUsed float64
	FreeMargin float64
}

// BacktestRun summarizes one completed run.
type BacktestRun struct {
	RunID      string
	Created    time.Time
	Instrument string
	Timeframe  string
	Strategy   string
	Dataset    string

	Start time.Time
	End   time.Time

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
}

// Journal persists the outputs of a simulation run.
type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordRun(BacktestRun) error
	Close() error
}

// Nop discards everything; handy for tests and dry runs.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error    { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) RecordRun(BacktestRun) error       { return nil }
func (Nop) Close() error                      { return nil }
