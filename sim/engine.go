package sim

import (
	"fmt"
	"time"

	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/indicators"
	"github.com/rustyeddy/barsim/market"
)

// FillKind tags what produced a fill.
type FillKind int8

const (
	FillEntry FillKind = iota
	FillExit
	FillPartial
)

// Fill is one recorded execution at a specific price and time.
type Fill struct {
	Ticket     int
	Instrument string
	Side       broker.Side
	Size       float64
	Price      float64
	Time       time.Time
	Kind       FillKind
	Reason     string
}

// ExecutionResult reports everything one bar did to the account.
type ExecutionResult struct {
	Fills   []Fill
	Expired []int // tickets of pending orders removed without a fill
}

// InstrKind tags a queued lifecycle instruction.
type InstrKind int8

const (
	InstrSetStop InstrKind = iota
	InstrPartialClose
	InstrClose
)

// Instruction is a position mutation issued by the lifecycle manager after
// bar n, executed by the engine at the start of bar n+1. Queuing keeps all
// mutations strictly between bars.
type Instruction struct {
	Ticket   int
	Kind     InstrKind
	Stop     float64 // InstrSetStop
	Fraction float64 // InstrPartialClose: fraction of remaining size
	Reason   string
}

// EntryOrder is a sized, risk-approved entry handed to the engine.
type EntryOrder struct {
	Instrument string
	Side       broker.Side
	Size       float64 // lots
	Type       broker.OrderType
	Trigger    float64 // stop/limit trigger price; ignored for market
	Stop       float64
	Take       float64
	Expiry     time.Time
}

// Engine decides, bar by bar, whether and at what price stops, targets, and
// pending orders trigger, and applies slippage, spread, and commission.
// It is single-symbol and owns no goroutines; the driver calls it in strict
// timestamp order.
type Engine struct {
	meta  market.InstrumentMeta
	costs CostModel
	atr   *indicators.ATR

	// quoteToAccount converts the quote currency to the account currency.
	// Fixed for the run; 1.0 for USD-quoted instruments on USD accounts.
	quoteToAccount float64

	queued []Instruction
}

func NewEngine(meta market.InstrumentMeta, costs CostModel, quoteToAccount float64) *Engine {
	if quoteToAccount <= 0 {
		quoteToAccount = 1
	}
	period := costs.ATRPeriod
	if period <= 0 {
		period = 14
	}
	return &Engine{
		meta:           meta,
		costs:          costs,
		atr:            indicators.NewATR(period),
		quoteToAccount: quoteToAccount,
	}
}

// UnitValue exposes the account-currency value of a one-unit move for 1.0
// lot, so callers (risk snapshots, drivers) use the same conversion.
func (e *Engine) UnitValue() float64 {
	return e.meta.UnitValue(e.quoteToAccount)
}

// Queue schedules lifecycle instructions for the next ApplyBar pass.
func (e *Engine) Queue(ins ...Instruction) {
	e.queued = append(e.queued, ins...)
}

// ApplyBar runs one bar against the account:
//
//  1. queued lifecycle instructions execute at the bar open
//  2. pending orders expire or fill against the bar's full range
//  3. open positions' stops and targets are tested against the full range,
//     with the conservative stop-first rule when both fall inside one bar
//  4. the account is marked to market at the bar close
//
// The volatility window feeding the spread/slippage models is advanced
// last, so costs on bar n only ever see bars up to n-1.
func (e *Engine) ApplyBar(acct *broker.Account, bar market.Bar) (ExecutionResult, error) {
	var res ExecutionResult

	if err := e.applyQueued(acct, bar, &res); err != nil {
		return res, err
	}
	e.processPending(acct, bar, &res)
	e.checkTriggers(acct, bar, &res)
	e.markToMarket(acct, bar)

	e.atr.Update(bar)
	return res, nil
}

// applyQueued executes instructions issued after the previous bar. Stop
// edits take effect before this bar's trigger checks; partial closes and
// forced exits fill at the bar open adjusted for costs.
func (e *Engine) applyQueued(acct *broker.Account, bar market.Bar, res *ExecutionResult) error {
	queued := e.queued
	e.queued = nil

	atr := e.atr.Value()
	slip := e.costs.slippage(e.meta, atr)

	for _, in := range queued {
		pos, ok := acct.Positions[in.Ticket]
		if !ok {
			// Position closed by triggers after the instruction was issued.
			continue
		}

		switch in.Kind {
		case InstrSetStop:
			pos.StopLoss = in.Stop
			if err := pos.Check(); err != nil {
				return err
			}

		case InstrPartialClose:
			price := adversePrice(bar.Open, pos.Side, slip)
			e.partialClose(acct, pos, in.Fraction, price, bar.Time, in.Reason, res)

		case InstrClose:
			price := adversePrice(bar.Open, pos.Side, slip)
			e.closePosition(acct, pos, price, bar.Time, in.Reason, res)

		default:
			return fmt.Errorf("unknown instruction kind %d", in.Kind)
		}
	}
	return nil
}

// processPending expires and fills resting orders. A stop order fills when
// the bar's range crosses the trigger in the breakout direction; a limit
// order when it crosses in the retracement direction. Fill price is the
// trigger adjusted adversely by slippage, never better than that.
func (e *Engine) processPending(acct *broker.Account, bar market.Bar, res *ExecutionResult) {
	atr := e.atr.Value()
	slip := e.costs.slippage(e.meta, atr)

	for _, ticket := range acct.OrderTickets() {
		ord := acct.Orders[ticket]

		if ord.ExpiredAt(bar.Time) {
			delete(acct.Orders, ticket)
			res.Expired = append(res.Expired, ticket)
			continue
		}

		var crossed bool
		switch ord.Type {
		case broker.OrderStop:
			if ord.Side == broker.Long {
				crossed = bar.High >= ord.Trigger
			} else {
				crossed = bar.Low <= ord.Trigger
			}
		case broker.OrderLimit:
			if ord.Side == broker.Long {
				crossed = bar.Low <= ord.Trigger
			} else {
				crossed = bar.High >= ord.Trigger
			}
		default:
			// Market orders never rest; nothing else fills here.
			continue
		}
		if !crossed {
			continue
		}

		price := adverseEntry(ord.Trigger, ord.Side, slip)
		if err := e.openPosition(acct, ord.Ticket, ord.Side, ord.Size, price, ord.StopLoss, ord.TakeProfit, bar.Time, res); err != nil {
			// Slippage pushed the fill past the order's own protective
			// level; the order cannot execute as specified, so it lapses.
			res.Expired = append(res.Expired, ticket)
		}
		delete(acct.Orders, ticket)
	}
}

// checkTriggers tests every open position's stop and target against the
// bar's full high-low range, never against the close alone. If both levels
// fall inside the same bar the stop is assumed to have hit first.
func (e *Engine) checkTriggers(acct *broker.Account, bar market.Bar, res *ExecutionResult) {
	atr := e.atr.Value()
	slip := e.costs.slippage(e.meta, atr)

	for _, ticket := range acct.PositionTickets() {
		pos := acct.Positions[ticket]

		var slHit, tpHit bool
		if pos.Side == broker.Long {
			slHit = pos.StopLoss > 0 && bar.Low <= pos.StopLoss
			tpHit = pos.TakeProfit > 0 && bar.High >= pos.TakeProfit
		} else {
			slHit = pos.StopLoss > 0 && bar.High >= pos.StopLoss
			tpHit = pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit
		}

		switch {
		case slHit:
			// Covers the both-hit bar too: worst outcome for the trader.
			price := adversePrice(pos.StopLoss, pos.Side, slip)
			e.closePosition(acct, pos, price, bar.Time, broker.ReasonStopLoss, res)
		case tpHit:
			price := adversePrice(pos.TakeProfit, pos.Side, slip)
			e.closePosition(acct, pos, price, bar.Time, broker.ReasonTakeProfit, res)
		}
	}
}

// Submit places a risk-approved entry. Market orders fill immediately at
// the bar close adjusted for half-spread and slippage; stop/limit orders
// rest on the account and are evaluated from the next bar onward.
func (e *Engine) Submit(acct *broker.Account, ord EntryOrder, bar market.Bar) (*Fill, error) {
	if ord.Size <= 0 {
		return nil, fmt.Errorf("submit: non-positive size %.4f", ord.Size)
	}

	ticket := acct.NextTicket()

	switch ord.Type {
	case broker.OrderMarket:
		atr := e.atr.Value()
		half := e.costs.spread(e.meta, atr) / 2
		slip := e.costs.slippage(e.meta, atr)
		price := adverseEntry(bar.Close, ord.Side, half+slip)

		var res ExecutionResult
		if err := e.openPosition(acct, ticket, ord.Side, ord.Size, price, ord.Stop, ord.Take, bar.Time, &res); err != nil {
			return nil, err
		}
		return &res.Fills[0], nil

	case broker.OrderStop, broker.OrderLimit:
		if ord.Trigger <= 0 {
			return nil, fmt.Errorf("submit: pending order without trigger")
		}
		acct.Orders[ticket] = &broker.PendingOrder{
			Ticket:     ticket,
			Instrument: ord.Instrument,
			Side:       ord.Side,
			Type:       ord.Type,
			Trigger:    ord.Trigger,
			Size:       ord.Size,
			StopLoss:   ord.Stop,
			TakeProfit: ord.Take,
			Created:    bar.Time,
			Expiry:     ord.Expiry,
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("submit: unknown order type %v", ord.Type)
	}
}

// openPosition books an entry fill. The position is validated before it
// touches the account: a fill that would start with its stop or target on
// the wrong side never enters the book and never counts as a trade.
func (e *Engine) openPosition(acct *broker.Account, ticket int, side broker.Side, size, price, stop, take float64, t time.Time, res *ExecutionResult) error {
	comm := e.costs.commission(size, price, e.meta, e.quoteToAccount)

	pos := &broker.Position{
		Ticket:     ticket,
		Instrument: e.meta.Name,
		Side:       side,
		EntryPrice: price,
		Size:       size,
		StopLoss:   stop,
		TakeProfit: take,
		OpenTime:   t,
		Commission: comm,
		HighWater:  price,
	}
	if err := pos.CheckNew(); err != nil {
		return err
	}

	// Commission accrues on the position and is realized on the final
	// close, so the balance only ever moves through ApplyRealized.
	acct.Positions[ticket] = pos
	acct.DailyTrades++

	res.Fills = append(res.Fills, Fill{
		Ticket:     ticket,
		Instrument: pos.Instrument,
		Side:       side,
		Size:       size,
		Price:      price,
		Time:       t,
		Kind:       FillEntry,
	})
	return nil
}

// partialClose realizes a fraction of the remaining size. If the remainder
// would drop below the instrument minimum the whole position closes.
func (e *Engine) partialClose(acct *broker.Account, pos *broker.Position, fraction, price float64, t time.Time, reason string, res *ExecutionResult) {
	if fraction <= 0 {
		return
	}
	if fraction >= 1 {
		e.closePosition(acct, pos, price, t, reason, res)
		return
	}

	closeSize := quantizeDown(pos.Size*fraction, e.meta.LotStep)
	if closeSize <= 0 {
		return
	}
	if pos.Size-closeSize < e.meta.MinLot {
		e.closePosition(acct, pos, price, t, reason, res)
		return
	}

	unit := e.meta.UnitValue(e.quoteToAccount)
	profit := pos.Side.Sign() * (price - pos.EntryPrice) * closeSize * unit

	pos.Size -= closeSize
	pos.Partials = append(pos.Partials, broker.PartialClose{
		Price:    price,
		Fraction: fraction,
		Time:     t,
	})
	acct.ApplyRealized(profit)

	acct.Closed = append(acct.Closed, broker.ClosedTrade{
		Ticket:     pos.Ticket,
		Instrument: pos.Instrument,
		Side:       pos.Side,
		Size:       closeSize,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		OpenTime:   pos.OpenTime,
		CloseTime:  t,
		Profit:     profit,
		ExitReason: reason,
	})
	res.Fills = append(res.Fills, Fill{
		Ticket:     pos.Ticket,
		Instrument: pos.Instrument,
		Side:       pos.Side,
		Size:       closeSize,
		Price:      price,
		Time:       t,
		Kind:       FillPartial,
		Reason:     reason,
	})
}

func (e *Engine) closePosition(acct *broker.Account, pos *broker.Position, price float64, t time.Time, reason string, res *ExecutionResult) {
	unit := e.meta.UnitValue(e.quoteToAccount)
	profit := pos.Side.Sign()*(price-pos.EntryPrice)*pos.Size*unit - pos.Commission

	acct.ApplyRealized(profit)
	delete(acct.Positions, pos.Ticket)

	acct.Closed = append(acct.Closed, broker.ClosedTrade{
		Ticket:     pos.Ticket,
		Instrument: pos.Instrument,
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		OpenTime:   pos.OpenTime,
		CloseTime:  t,
		Profit:     profit,
		Commission: pos.Commission,
		ExitReason: reason,
	})
	res.Fills = append(res.Fills, Fill{
		Ticket:     pos.Ticket,
		Instrument: pos.Instrument,
		Side:       pos.Side,
		Size:       pos.Size,
		Price:      price,
		Time:       t,
		Kind:       FillExit,
		Reason:     reason,
	})
}

// CloseAll force-closes every open position at the bar close, used by the
// driver at end of data.
func (e *Engine) CloseAll(acct *broker.Account, bar market.Bar, reason string) ExecutionResult {
	var res ExecutionResult

	atr := e.atr.Value()
	slip := e.costs.slippage(e.meta, atr)
	half := e.costs.spread(e.meta, atr) / 2

	for _, ticket := range acct.PositionTickets() {
		pos := acct.Positions[ticket]
		price := adversePrice(bar.Close, pos.Side, half+slip)
		e.closePosition(acct, pos, price, bar.Time, reason, &res)
	}
	e.markToMarket(acct, bar)
	return res
}

// markToMarket revalues equity and margin off the bar close. Longs mark on
// the bid, shorts on the ask, with bid/ask derived from the close and the
// configured spread model.
func (e *Engine) markToMarket(acct *broker.Account, bar market.Bar) {
	atr := e.atr.Value()
	half := e.costs.spread(e.meta, atr) / 2
	unit := e.meta.UnitValue(e.quoteToAccount)

	equity := acct.Balance
	var margin float64

	for _, ticket := range acct.PositionTickets() {
		pos := acct.Positions[ticket]

		mark := bar.Close - half // bid
		if pos.Side == broker.Short {
			mark = bar.Close + half // ask
		}
		equity += pos.UnrealizedPL(mark, unit) - pos.Commission
		margin += e.meta.Margin(pos.Size, pos.EntryPrice, e.quoteToAccount, acct.Leverage)
	}

	acct.Equity = equity
	acct.MarginUsed = margin
	acct.FreeMargin = equity - margin
}

// adversePrice shifts an exit price against the trader: longs exit lower,
// shorts exit higher.
func adversePrice(price float64, side broker.Side, offset float64) float64 {
	return price - side.Sign()*offset
}

// adverseEntry shifts an entry price against the trader: longs enter
// higher, shorts enter lower.
func adverseEntry(price float64, side broker.Side, offset float64) float64 {
	return price + side.Sign()*offset
}

func quantizeDown(size, step float64) float64 {
	if step <= 0 {
		return size
	}
	n := int64(size/step + 1e-9)
	return float64(n) * step
}
