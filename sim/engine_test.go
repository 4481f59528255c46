package sim

import (
	"math"
	"testing"
	"time"

	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/market"
)

// testMeta keeps the arithmetic readable: pip = 1.0 and a one-unit price
// move on 1.0 lot is worth exactly one account unit.
var testMeta = market.InstrumentMeta{
	Name:         "TST_USD",
	PipLocation:  0,
	ContractSize: 1,
	LotStep:      0.01,
	MinLot:       0.01,
	MaxLot:       1000,
}

// testCosts: 0.5 slippage, 1.0 full spread, no commission.
func testCosts() CostModel {
	return CostModel{
		SlippageMode: SlippageFixed,
		SlippagePips: 0.5,
		SpreadMode:   SpreadFixed,
		SpreadPips:   1,
		ATRPeriod:    14,
	}
}

var t0 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{
		Time:  t0.Add(time.Duration(i) * time.Hour),
		Open:  o,
		High:  h,
		Low:   l,
		Close: c,
	}
}

func newTestEngine(t *testing.T, balance float64) (*Engine, *broker.Account) {
	t.Helper()
	eng := NewEngine(testMeta, testCosts(), 1.0)
	acct := broker.NewAccount("acct-1", "USD", balance, 100)
	return eng, acct
}

func openLong(t *testing.T, eng *Engine, acct *broker.Account, size, stop, take float64, b market.Bar) *Fill {
	t.Helper()
	fill, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Long,
		Size:       size,
		Type:       broker.OrderMarket,
		Stop:       stop,
		Take:       take,
	}, b)
	if err != nil {
		t.Fatalf("submit market order: %v", err)
	}
	if fill == nil {
		t.Fatal("market order did not fill")
	}
	return fill
}

func apply(t *testing.T, eng *Engine, acct *broker.Account, b market.Bar) ExecutionResult {
	t.Helper()
	res, err := eng.ApplyBar(acct, b)
	if err != nil {
		t.Fatalf("apply bar: %v", err)
	}
	return res
}

func approx(t *testing.T, got, want float64, what string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", what, got, want)
	}
}

func TestMarketFillAdverse(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)

	// close 100, half-spread 0.5, slippage 0.5 -> a long enters at 101.
	fill := openLong(t, eng, acct, 1.0, 95, 105, bar(0, 100, 100, 100, 100))
	approx(t, fill.Price, 101, "entry price")

	if len(acct.Positions) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(acct.Positions))
	}
	if fill.Ticket != 1000 {
		t.Fatalf("first ticket = %d, want 1000", fill.Ticket)
	}
}

func TestStopWinsWhenBothLevelsInRange(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 95, 105, bar(0, 100, 100, 100, 100))

	// Both the 95 stop and the 105 target sit inside this bar's range.
	res := apply(t, eng, acct, bar(1, 100, 105, 95, 102))

	if len(acct.Positions) != 0 {
		t.Fatal("position should be closed")
	}
	if len(res.Fills) != 1 {
		t.Fatalf("expected 1 exit fill, got %d", len(res.Fills))
	}
	exit := res.Fills[0]
	if exit.Reason != broker.ReasonStopLoss {
		t.Fatalf("exit reason = %s, want %s", exit.Reason, broker.ReasonStopLoss)
	}
	// Stop 95 with 0.5 adverse slippage.
	approx(t, exit.Price, 94.5, "exit price")

	ct := acct.Closed[0]
	approx(t, ct.Profit, 94.5-101, "realized profit")
	approx(t, acct.Balance, 10_000+94.5-101, "balance")
}

func TestTakeProfitOnFavorableBar(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 95, 105, bar(0, 100, 100, 100, 100))

	res := apply(t, eng, acct, bar(1, 102, 106, 101, 104))

	if len(res.Fills) != 1 || res.Fills[0].Reason != broker.ReasonTakeProfit {
		t.Fatalf("expected take-profit exit, got %+v", res.Fills)
	}
	approx(t, res.Fills[0].Price, 104.5, "exit price")
	approx(t, acct.Balance, 10_000+104.5-101, "balance")
}

func TestZeroRangeBarStillTriggers(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 100, 0, bar(0, 102, 102, 102, 102))

	// Flat bar exactly at the stop level.
	res := apply(t, eng, acct, bar(1, 100, 100, 100, 100))

	if len(res.Fills) != 1 || res.Fills[0].Reason != broker.ReasonStopLoss {
		t.Fatalf("expected stop exit on zero-range bar, got %+v", res.Fills)
	}
	approx(t, res.Fills[0].Price, 99.5, "exit price")
}

func TestShortStopTriggersOnHigh(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	fill, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Short,
		Size:       1.0,
		Type:       broker.OrderMarket,
		Stop:       105,
		Take:       90,
	}, bar(0, 100, 100, 100, 100))
	if err != nil || fill == nil {
		t.Fatalf("submit short: %v", err)
	}
	// Short enters below the close: 100 - 1.0.
	approx(t, fill.Price, 99, "entry price")

	res := apply(t, eng, acct, bar(1, 101, 105, 100, 103))
	if len(res.Fills) != 1 || res.Fills[0].Reason != broker.ReasonStopLoss {
		t.Fatalf("expected short stop exit, got %+v", res.Fills)
	}
	// Short exits higher under slippage.
	approx(t, res.Fills[0].Price, 105.5, "exit price")
	approx(t, acct.Closed[0].Profit, -(105.5 - 99), "realized loss")
}

func TestPendingStopOrderFillsOnBreakout(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)

	_, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Long,
		Size:       1.0,
		Type:       broker.OrderStop,
		Trigger:    105,
		Stop:       100,
		Take:       115,
	}, bar(0, 100, 101, 99, 100))
	if err != nil {
		t.Fatalf("submit pending: %v", err)
	}
	if len(acct.Orders) != 1 {
		t.Fatal("pending order should rest on the account")
	}

	// No cross yet.
	apply(t, eng, acct, bar(1, 100, 104, 99, 103))
	if len(acct.Positions) != 0 {
		t.Fatal("order filled before the trigger was crossed")
	}

	// High crosses the trigger.
	res := apply(t, eng, acct, bar(2, 103, 106, 102, 105))
	if len(acct.Positions) != 1 {
		t.Fatal("breakout should fill the stop order")
	}
	if len(acct.Orders) != 0 {
		t.Fatal("filled order should leave the book")
	}
	approx(t, res.Fills[0].Price, 105.5, "fill price") // trigger + slippage
}

func TestPendingFillPastOwnTargetLapses(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)

	// The take-profit sits within slippage of the trigger: the 105.5
	// slipped fill would open already past its own target.
	_, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Long,
		Size:       1.0,
		Type:       broker.OrderStop,
		Trigger:    105,
		Stop:       100,
		Take:       105.3,
	}, bar(0, 100, 101, 99, 100))
	if err != nil {
		t.Fatalf("submit pending: %v", err)
	}

	res := apply(t, eng, acct, bar(1, 103, 106, 102, 105))

	if len(acct.Positions) != 0 {
		t.Fatal("an unexecutable fill must not enter the book")
	}
	if len(acct.Orders) != 0 {
		t.Fatal("the lapsed order should leave the book")
	}
	if len(res.Fills) != 0 {
		t.Fatalf("expected no fills, got %+v", res.Fills)
	}
	if len(res.Expired) != 1 || res.Expired[0] != 1000 {
		t.Fatalf("expected ticket 1000 to lapse, got %v", res.Expired)
	}
	if acct.DailyTrades != 0 {
		t.Fatalf("a lapsed order must not count as a trade, got %d", acct.DailyTrades)
	}
}

func TestPendingLimitOrderFillsOnRetracement(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)

	_, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Long,
		Size:       1.0,
		Type:       broker.OrderLimit,
		Trigger:    95,
		Stop:       90,
		Take:       105,
	}, bar(0, 100, 101, 99, 100))
	if err != nil {
		t.Fatalf("submit limit: %v", err)
	}

	res := apply(t, eng, acct, bar(1, 99, 100, 94, 96))
	if len(acct.Positions) != 1 {
		t.Fatal("retracement should fill the limit order")
	}
	approx(t, res.Fills[0].Price, 95.5, "fill price")
}

func TestPendingOrderExpires(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)

	_, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Long,
		Size:       1.0,
		Type:       broker.OrderStop,
		Trigger:    105,
		Stop:       100,
		Expiry:     t0.Add(90 * time.Minute),
	}, bar(0, 100, 101, 99, 100))
	if err != nil {
		t.Fatalf("submit pending: %v", err)
	}

	res := apply(t, eng, acct, bar(2, 100, 110, 99, 108)) // 2h later, past expiry
	if len(res.Expired) != 1 {
		t.Fatalf("expected 1 expired order, got %d", len(res.Expired))
	}
	if len(acct.Positions) != 0 || len(acct.Orders) != 0 {
		t.Fatal("expired order must not fill even though the trigger was crossed")
	}
}

func TestQueuedPartialCloseAtNextOpen(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 95, 0, bar(0, 100, 100, 100, 100)) // entry 101

	eng.Queue(Instruction{
		Ticket:   1000,
		Kind:     InstrPartialClose,
		Fraction: 0.5,
		Reason:   broker.ReasonPartialProfit,
	})
	res := apply(t, eng, acct, bar(1, 110, 111, 109, 110))

	pos := acct.Positions[1000]
	if pos == nil {
		t.Fatal("position should survive a partial close")
	}
	approx(t, pos.Size, 0.5, "remaining size")

	if len(res.Fills) != 1 || res.Fills[0].Kind != FillPartial {
		t.Fatalf("expected partial fill, got %+v", res.Fills)
	}
	// Executed at the bar open, adverse by slippage: 110 - 0.5.
	approx(t, res.Fills[0].Price, 109.5, "partial price")
	approx(t, acct.Balance, 10_000+(109.5-101)*0.5, "balance after partial")
	if acct.Closed[0].ExitReason != broker.ReasonPartialProfit {
		t.Fatalf("exit reason = %s", acct.Closed[0].ExitReason)
	}
}

func TestQueuedStopEditAppliesBeforeTriggers(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 95, 0, bar(0, 100, 100, 100, 100)) // entry 101

	eng.Queue(Instruction{Ticket: 1000, Kind: InstrSetStop, Stop: 103})
	res := apply(t, eng, acct, bar(1, 105, 106, 103, 104))

	// The raised stop is live on the same bar and the dip to 103 hits it.
	if len(res.Fills) != 1 || res.Fills[0].Reason != broker.ReasonStopLoss {
		t.Fatalf("expected stop exit at the edited level, got %+v", res.Fills)
	}
	approx(t, res.Fills[0].Price, 102.5, "exit price")
	approx(t, acct.Closed[0].Profit, 102.5-101, "locked-in profit")
}

func TestInstructionForClosedPositionIsDropped(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 95, 0, bar(0, 100, 100, 100, 100))

	apply(t, eng, acct, bar(1, 96, 97, 94, 96)) // stop hit, position gone
	eng.Queue(Instruction{Ticket: 1000, Kind: InstrSetStop, Stop: 99})

	res := apply(t, eng, acct, bar(2, 96, 97, 95, 96))
	if len(res.Fills) != 0 {
		t.Fatalf("stale instruction must be a no-op, got %+v", res.Fills)
	}
}

func TestPartialCloseBelowMinClosesAll(t *testing.T) {
	meta := testMeta
	meta.MinLot = 0.05 // broker minimum above the lot step
	eng := NewEngine(meta, testCosts(), 1.0)
	acct := broker.NewAccount("acct-1", "USD", 10_000, 100)

	fill, err := eng.Submit(acct, EntryOrder{
		Instrument: meta.Name,
		Side:       broker.Long,
		Size:       0.08,
		Type:       broker.OrderMarket,
		Stop:       95,
	}, bar(0, 100, 100, 100, 100))
	if err != nil || fill == nil {
		t.Fatalf("submit: %v", err)
	}

	// Closing half would strand 0.04, below the 0.05 minimum.
	eng.Queue(Instruction{Ticket: 1000, Kind: InstrPartialClose, Fraction: 0.5, Reason: broker.ReasonPartialProfit})
	apply(t, eng, acct, bar(1, 102, 103, 101, 102))

	if len(acct.Positions) != 0 {
		t.Fatal("remainder below the minimum lot should close the whole position")
	}
	approx(t, acct.Closed[0].Size, 0.08, "closed size")
}

func TestMarkToMarketEquityAndMargin(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 90, 0, bar(0, 100, 100, 100, 100)) // entry 101

	apply(t, eng, acct, bar(1, 102, 104, 101, 104))

	// Long marks on the bid: close 104 minus half-spread 0.5.
	approx(t, acct.Equity, 10_000+(103.5-101)*1.0, "equity")
	approx(t, acct.MarginUsed, 1.0*101/100, "margin used")
	approx(t, acct.FreeMargin, acct.Equity-acct.MarginUsed, "free margin")
	approx(t, acct.Balance, 10_000, "balance must not move on unrealized gains")
}

func TestCommissionRealizedOnce(t *testing.T) {
	costs := testCosts()
	costs.CommissionPerLot = 5
	eng := NewEngine(testMeta, costs, 1.0)
	acct := broker.NewAccount("acct-1", "USD", 10_000, 100)

	fill, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Long,
		Size:       2.0,
		Type:       broker.OrderMarket,
		Stop:       90,
	}, bar(0, 100, 100, 100, 100))
	if err != nil || fill == nil {
		t.Fatalf("submit: %v", err)
	}
	approx(t, acct.Balance, 10_000, "commission must not hit the balance at open")
	approx(t, acct.Positions[1000].Commission, 10, "accrued commission")

	// Flat bar: equity carries the mark-to-market loss plus the accrual.
	apply(t, eng, acct, bar(1, 101, 101, 101, 101))
	approx(t, acct.Equity, 10_000+(100.5-101)*2-10, "equity includes commission accrual")

	eng.CloseAll(acct, bar(2, 101, 101, 101, 101), broker.ReasonEndOfData)
	ct := acct.Closed[0]
	approx(t, ct.Commission, 10, "journaled commission")
	approx(t, ct.Profit, (100-101)*2-10, "profit net of commission")
	approx(t, acct.Balance, 10_000+ct.Profit, "balance after close")
}

func TestSubmitRejectsWrongSideStop(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)

	_, err := eng.Submit(acct, EntryOrder{
		Instrument: testMeta.Name,
		Side:       broker.Long,
		Size:       1.0,
		Type:       broker.OrderMarket,
		Stop:       110, // above a long entry
	}, bar(0, 100, 100, 100, 100))
	if err == nil {
		t.Fatal("expected an invariant error")
	}
	if len(acct.Positions) != 0 {
		t.Fatal("malformed order must not enter the book")
	}
}

func TestCloseAllAtEndOfData(t *testing.T) {
	eng, acct := newTestEngine(t, 10_000)
	openLong(t, eng, acct, 1.0, 90, 0, bar(0, 100, 100, 100, 100))
	openLong(t, eng, acct, 1.0, 90, 0, bar(0, 100, 100, 100, 100))

	last := bar(1, 102, 103, 101, 102)
	res := eng.CloseAll(acct, last, broker.ReasonEndOfData)

	if len(acct.Positions) != 0 {
		t.Fatal("all positions should be closed")
	}
	if len(res.Fills) != 2 {
		t.Fatalf("expected 2 exit fills, got %d", len(res.Fills))
	}
	// Deterministic order: ascending tickets.
	if res.Fills[0].Ticket != 1000 || res.Fills[1].Ticket != 1001 {
		t.Fatalf("fills out of ticket order: %+v", res.Fills)
	}
	for _, f := range res.Fills {
		if f.Reason != broker.ReasonEndOfData {
			t.Fatalf("reason = %s", f.Reason)
		}
	}
	approx(t, acct.Equity, acct.Balance, "flat account marks equity at balance")
}
