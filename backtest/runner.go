// Package backtest drives a simulation run: it walks a validated bar
// series in order, feeds each completed bar through the execution engine,
// polls the lifecycle manager and the strategy, and journals what happened.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/config"
	"github.com/rustyeddy/barsim/journal"
	"github.com/rustyeddy/barsim/lifecycle"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/pkg/id"
	"github.com/rustyeddy/barsim/risk"
	"github.com/rustyeddy/barsim/sim"
)

// Runner owns one simulation run end to end. It is single-use: build one
// per run with New.
type Runner struct {
	cfg *config.Config
	src SignalSource
	jnl journal.Journal
	log *slog.Logger
}

func New(cfg *config.Config, src SignalSource, jnl journal.Journal, log *slog.Logger) *Runner {
	if jnl == nil {
		jnl = journal.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, src: src, jnl: jnl, log: log}
}

// Run replays the series bar by bar. The ordering inside each bar is fixed:
// queued lifecycle instructions, pending orders, stop/target triggers, and
// the close mark all happen in the engine's ApplyBar; only then does the
// lifecycle manager look at the bar, and the strategy signal comes last, so
// nothing ever acts on prices it could not have seen.
//
// Run returns an error only for malformed data or a broken account
// invariant. Rejected signals and expired orders are counted, not errors.
func (r *Runner) Run(ctx context.Context, series *market.Series) (*Result, error) {
	if len(series.Bars) == 0 {
		return nil, fmt.Errorf("empty bar series for %s", series.Instrument)
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}

	meta, ok := market.Instruments[series.Instrument]
	if !ok {
		return nil, fmt.Errorf("unknown instrument %s", series.Instrument)
	}

	acct := broker.NewAccount(r.cfg.Account.ID, r.cfg.Account.Currency,
		r.cfg.Account.Balance, r.cfg.Account.Leverage)
	eng := sim.NewEngine(meta, r.cfg.CostModel(), r.cfg.QuoteToAccount)
	pol := r.cfg.RiskPolicy()
	lc := r.cfg.LifecyclePolicy()
	r.src.Reset()

	res := &Result{
		RunID:        id.New(),
		Instrument:   series.Instrument,
		Timeframe:    series.Timeframe,
		Strategy:     r.src.Name(),
		Start:        series.Bars[0].Time,
		End:          series.Bars[len(series.Bars)-1].Time,
		Bars:         len(series.Bars),
		StartBalance: acct.Balance,
	}
	log := r.log.With("run", res.RunID, "instrument", series.Instrument, "strategy", res.Strategy)
	log.Info("run starting", "bars", res.Bars, "balance", acct.Balance)

	journaled := 0 // index into acct.Closed already written out

	for i, bar := range series.Bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acct.RollPeriods(bar.Time)

		exec, err := eng.ApplyBar(acct, bar)
		if err != nil {
			return nil, fmt.Errorf("bar %d at %s: %w", i, bar.Time, err)
		}
		res.Expired += len(exec.Expired)

		journaled = r.journalClosed(acct, res.RunID, journaled)
		if i < len(series.Bars)-1 {
			// The final bar is snapshotted once, after the close-all below,
			// so the curve carries exactly one point per bar.
			r.snapshot(acct, res, bar)
		}

		// Lifecycle decisions on the completed bar, executed by the engine
		// at the start of the next one.
		for _, ticket := range acct.PositionTickets() {
			pos := acct.Positions[ticket]
			acts := lifecycle.Advance(pos, bar, lc)
			if acts.Empty() {
				continue
			}
			eng.Queue(instructions(ticket, acts)...)
		}

		sig := r.src.OnBar(bar)
		if sig == nil {
			continue
		}
		r.propose(acct, eng, pol, meta, sig, bar, res, log)
	}

	// Anything still open marks out at the final close.
	last := series.Bars[len(series.Bars)-1]
	eng.CloseAll(acct, last, broker.ReasonEndOfData)
	r.journalClosed(acct, res.RunID, journaled)
	r.snapshot(acct, res, last)

	res.EndBalance = acct.Balance
	res.Closed = acct.Closed
	res.summarize()

	log.Info("run finished",
		"trades", res.Trades,
		"win_rate", fmt.Sprintf("%.1f%%", res.WinRate*100),
		"net_pl", fmt.Sprintf("%.2f", res.NetPL),
		"max_dd", fmt.Sprintf("%.1f%%", res.MaxDDPct),
		"rejections", res.Rejections)
	return res, nil
}

// propose runs one signal through the risk engine and, if accepted, submits
// the sized entry. Rejections are tallied and logged, never fatal.
func (r *Runner) propose(acct *broker.Account, eng *sim.Engine, pol risk.Policy,
	meta market.InstrumentMeta, sig *Signal, bar market.Bar, res *Result, log *slog.Logger) {

	entry := sig.Entry
	if sig.Type == broker.OrderMarket || entry == 0 {
		entry = bar.Close
	}
	req := risk.TradeRequest{
		Instrument: meta.Name,
		Side:       sig.Side,
		Type:       sig.Type,
		Entry:      entry,
		Stop:       sig.Stop,
		Target:     sig.Target,
		Quality:    sig.Quality,
		InKillZone: r.cfg.InKillZone(bar.Time),
		Expiry:     sig.Expiry,
		Time:       bar.Time,
	}

	unit := eng.UnitValue()
	snap := risk.AccountSnapshot{
		Balance:           acct.Balance,
		Equity:            acct.Equity,
		FreeMargin:        acct.FreeMargin,
		Leverage:          acct.Leverage,
		OpenPositions:     len(acct.Positions),
		OpenRiskAmount:    acct.OpenRiskAmount(func(string) float64 { return unit }),
		DailyTrades:       acct.DailyTrades,
		DailyPL:           acct.DailyPL,
		WeeklyPL:          acct.WeeklyPL,
		MonthlyPL:         acct.MonthlyPL,
		ConsecutiveLosses: acct.ConsecutiveLosses,
	}

	sized, rej := risk.SizeTrade(pol, meta, snap, req, risk.ComputeStats(acct.Closed), r.cfg.QuoteToAccount)
	if rej != nil {
		res.Rejections++
		log.Debug("signal rejected", "time", bar.Time, "reason", rej.Reason, "detail", rej.Detail)
		return
	}

	ord := sim.EntryOrder{
		Instrument: meta.Name,
		Side:       sized.Request.Side,
		Size:       sized.Size,
		Type:       sized.Request.Type,
		Trigger:    sized.Request.Entry,
		Stop:       sized.Request.Stop,
		Take:       sized.Request.Target,
		Expiry:     sized.Request.Expiry,
	}
	fill, err := eng.Submit(acct, ord, bar)
	if err != nil {
		// Malformed orders never enter the book; count with rejections.
		res.Rejections++
		log.Warn("submit refused", "time", bar.Time, "err", err)
		return
	}
	if fill != nil {
		log.Debug("entry filled",
			"ticket", fill.Ticket, "side", fill.Side, "size", fill.Size, "price", fill.Price)
	}
}

// journalClosed writes newly closed trades and returns the new high-water
// index into the append-only log.
func (r *Runner) journalClosed(acct *broker.Account, runID string, from int) int {
	for _, ct := range acct.Closed[from:] {
		rec := journal.TradeRecord{
			RunID:      runID,
			Ticket:     ct.Ticket,
			Instrument: ct.Instrument,
			Side:       ct.Side.String(),
			Size:       ct.Size,
			EntryPrice: ct.EntryPrice,
			ExitPrice:  ct.ExitPrice,
			OpenTime:   ct.OpenTime,
			CloseTime:  ct.CloseTime,
			Profit:     ct.Profit,
			Commission: ct.Commission,
			Reason:     ct.ExitReason,
		}
		if err := r.jnl.RecordTrade(rec); err != nil {
			r.log.Warn("journal trade failed", "ticket", ct.Ticket, "err", err)
		}
	}
	return len(acct.Closed)
}

func (r *Runner) snapshot(acct *broker.Account, res *Result, bar market.Bar) {
	res.Curve = append(res.Curve, EquityPoint{
		Time:    bar.Time,
		Balance: acct.Balance,
		Equity:  acct.Equity,
	})
	snap := journal.EquitySnapshot{
		RunID:      res.RunID,
		Time:       bar.Time,
		Balance:    acct.Balance,
		Equity:     acct.Equity,
		MarginUsed: acct.MarginUsed,
		FreeMargin: acct.FreeMargin,
	}
	if err := r.jnl.RecordEquity(snap); err != nil {
		r.log.Warn("journal equity failed", "time", bar.Time, "err", err)
	}
}

// instructions converts lifecycle actions into engine instructions for one
// position.
func instructions(ticket int, acts lifecycle.Actions) []sim.Instruction {
	var out []sim.Instruction
	if acts.Exit {
		return append(out, sim.Instruction{
			Ticket: ticket,
			Kind:   sim.InstrClose,
			Reason: acts.ExitReason,
		})
	}
	for _, pc := range acts.PartialCloses {
		out = append(out, sim.Instruction{
			Ticket:   ticket,
			Kind:     sim.InstrPartialClose,
			Fraction: pc.Fraction,
			Reason:   pc.Reason,
		})
	}
	if acts.NewStop != 0 {
		out = append(out, sim.Instruction{
			Ticket: ticket,
			Kind:   sim.InstrSetStop,
			Stop:   acts.NewStop,
		})
	}
	return out
}
