package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(run_id, ticket, instrument, side, size, entry_price, exit_price, open_time, close_time, profit, commission, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Ticket, t.Instrument, t.Side, t.Size, t.EntryPrice,
		t.ExitPrice, t.OpenTime, t.CloseTime, t.Profit, t.Commission, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, balance, equity, margin_used, free_margin)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time, e.Balance, e.Equity, e.MarginUsed, e.FreeMargin,
	)
	return err
}

func (j *SQLite) RecordRun(r BacktestRun) error {
	_, err := j.db.Exec(`
		INSERT INTO backtest_runs
		(run_id, created, instrument, timeframe, strategy, dataset, start, end,
		 trades, wins, losses, rejections, expired,
		 start_balance, end_balance, net_pl, return_pct, win_rate, profit_factor, max_dd_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Instrument, r.Timeframe, r.Strategy, r.Dataset,
		r.Start, r.End, r.Trades, r.Wins, r.Losses, r.Rejections, r.Expired,
		r.StartBalance, r.EndBalance, r.NetPL, r.ReturnPct, r.WinRate,
		r.ProfitFactor, r.MaxDDPct,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
