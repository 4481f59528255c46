package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/market"
)

// RejectReason is the typed outcome of a failed risk check. Rejections are
// values folded into run statistics, never errors that abort a run.
type RejectReason string

const (
	RejectBadRequest         RejectReason = "bad-request"
	RejectQuality            RejectReason = "quality-below-minimum"
	RejectKillZone           RejectReason = "outside-kill-zone"
	RejectRR                 RejectReason = "reward-risk-below-minimum"
	RejectDailyLoss          RejectReason = "daily-loss-limit"
	RejectWeeklyLoss         RejectReason = "weekly-loss-limit"
	RejectMonthlyLoss        RejectReason = "monthly-loss-limit"
	RejectLossStreak         RejectReason = "consecutive-loss halt"
	RejectMaxDailyTrades     RejectReason = "daily-trade-limit"
	RejectMaxPositions       RejectReason = "position-cap"
	RejectPortfolioRisk      RejectReason = "portfolio-risk-exhausted"
	RejectSizeBelowMin       RejectReason = "size-below-minimum"
	RejectInsufficientMargin RejectReason = "insufficient-margin"
)

type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AccountSnapshot is the read-only slice of account state the sizing
// decision depends on. The driver builds one per proposed trade so the
// engine stays a pure function of its inputs.
type AccountSnapshot struct {
	Balance    float64
	Equity     float64
	FreeMargin float64
	Leverage   float64

	OpenPositions  int
	OpenRiskAmount float64 // combined stop-out loss of open positions
	DailyTrades    int

	DailyPL           float64
	WeeklyPL          float64
	MonthlyPL         float64
	ConsecutiveLosses int
}

// TradeRequest is a proposed entry derived from an external signal.
type TradeRequest struct {
	Instrument string
	Side       broker.Side
	Type       broker.OrderType
	Entry      float64 // reference price; trigger for stop/limit entries
	Stop       float64
	Target     float64
	Quality    float64 // opaque signal quality score
	InKillZone bool
	Expiry     time.Time // pending-order validity window
	Time       time.Time
}

// SizedTrade is an accepted, bounded trade ready for the execution engine.
type SizedTrade struct {
	Request    TradeRequest
	Size       float64 // lots, quantized
	RiskAmount float64 // account currency at stake if the stop is hit
	RiskPct    float64
}

// SizeTrade converts a proposed trade into a bounded position size or a
// typed rejection. It is a pure function of its inputs: identical inputs
// always produce the identical decision.
//
// Leverage never enters the sizing formula. It only bounds available
// margin, checked as a separate sufficiency test at the end.
func SizeTrade(p Policy, meta market.InstrumentMeta, acct AccountSnapshot, req TradeRequest, stats Stats, quoteToAccount float64) (SizedTrade, *Rejection) {
	var none SizedTrade

	if acct.Balance <= 0 {
		return none, reject(RejectBadRequest, "non-positive balance %.2f", acct.Balance)
	}
	if req.Entry <= 0 || req.Stop <= 0 {
		return none, reject(RejectBadRequest, "entry and stop must be set")
	}
	stopDist := abs(req.Entry - req.Stop)
	if stopDist == 0 {
		return none, reject(RejectBadRequest, "stop equals entry")
	}
	if req.Stop != 0 && wrongSide(req.Side, req.Entry, req.Stop, req.Target) {
		return none, reject(RejectBadRequest, "stop or target on wrong side of entry")
	}

	tier := TierFor(acct.Balance)
	tp := p.Tier(tier)

	// Entry filters.
	if req.Quality < tp.MinQuality {
		return none, reject(RejectQuality, "quality %.1f below tier %s minimum %.1f", req.Quality, tier, tp.MinQuality)
	}
	if tp.RequireKillZone && !req.InKillZone {
		return none, reject(RejectKillZone, "tier %s trades only inside kill zones", tier)
	}
	if req.Target > 0 {
		rr := abs(req.Target-req.Entry) / stopDist
		if rr < tp.MinRR {
			return none, reject(RejectRR, "reward:risk %.2f below %.2f", rr, tp.MinRR)
		}
	}

	// Loss-limit gates.
	if acct.DailyPL <= -p.MaxDailyLossPct*acct.Balance {
		return none, reject(RejectDailyLoss, "day realized %.2f breaches %.1f%% cap", acct.DailyPL, p.MaxDailyLossPct*100)
	}
	if acct.WeeklyPL <= -p.MaxWeeklyLossPct*acct.Balance {
		return none, reject(RejectWeeklyLoss, "week realized %.2f breaches %.1f%% cap", acct.WeeklyPL, p.MaxWeeklyLossPct*100)
	}
	if acct.MonthlyPL <= -p.MaxMonthlyLossPct*acct.Balance {
		return none, reject(RejectMonthlyLoss, "month realized %.2f breaches %.1f%% cap", acct.MonthlyPL, p.MaxMonthlyLossPct*100)
	}
	if p.ConsecutiveLossHalt > 0 && acct.ConsecutiveLosses >= p.ConsecutiveLossHalt {
		return none, reject(RejectLossStreak, "%d consecutive losses, halted until next day", acct.ConsecutiveLosses)
	}

	// Exposure caps.
	if tp.MaxDailyTrades > 0 && acct.DailyTrades >= tp.MaxDailyTrades {
		return none, reject(RejectMaxDailyTrades, "%d/%d trades today", acct.DailyTrades, tp.MaxDailyTrades)
	}
	if p.MaxOpenPositions > 0 && acct.OpenPositions >= p.MaxOpenPositions {
		return none, reject(RejectMaxPositions, "%d open positions", acct.OpenPositions)
	}

	// Risk fraction: tier base, de-risked on a loss streak, replaced by the
	// bounded fractional Kelly once enough history exists. The tier's hard
	// cap always wins.
	riskPct := tp.RiskPct
	switch {
	case acct.ConsecutiveLosses >= 2:
		riskPct *= 0.5
	case acct.ConsecutiveLosses == 1:
		riskPct *= 0.75
	}
	if stats.Trades >= p.MinTradesForKelly {
		if k := stats.Kelly() * p.KellyFraction; k > 0 {
			riskPct = k
		}
	}
	if riskPct > tp.MaxRiskPct {
		riskPct = tp.MaxRiskPct
	}

	riskAmount := acct.Balance * riskPct

	// Correlated/portfolio exposure shrinks the proposal, not rejects it.
	if p.MaxPortfolioRiskPct > 0 {
		budget := acct.Balance*p.MaxPortfolioRiskPct - acct.OpenRiskAmount
		if budget <= 0 {
			return none, reject(RejectPortfolioRisk, "open risk %.2f exhausts %.1f%% budget", acct.OpenRiskAmount, p.MaxPortfolioRiskPct*100)
		}
		if riskAmount > budget {
			riskAmount = budget
		}
	}

	// Sizing: risk divided by the monetary stop distance per lot.
	unitValue := meta.UnitValue(quoteToAccount)
	size := riskAmount / (stopDist * unitValue)

	// Quantize down; rounding up would violate the risk bound.
	size = quantizeLots(size, meta.LotStep)
	if size < meta.MinLot {
		return none, reject(RejectSizeBelowMin, "size %.4f below minimum %.2f", size, meta.MinLot)
	}
	if size > meta.MaxLot {
		size = meta.MaxLot
	}
	riskAmount = size * stopDist * unitValue

	// Margin sufficiency: the only place leverage appears. The instrument
	// margin rate applies, tightened by leverage when the account allows
	// less than the instrument does.
	margin := meta.Margin(size, req.Entry, quoteToAccount, acct.Leverage)
	if margin > acct.FreeMargin {
		return none, reject(RejectInsufficientMargin, "margin %.2f exceeds free %.2f", margin, acct.FreeMargin)
	}

	return SizedTrade{
		Request:    req,
		Size:       size,
		RiskAmount: riskAmount,
		RiskPct:    riskAmount / acct.Balance,
	}, nil
}

func wrongSide(side broker.Side, entry, stop, target float64) bool {
	if side == broker.Long {
		if stop >= entry {
			return true
		}
		if target > 0 && target <= entry {
			return true
		}
		return false
	}
	if stop <= entry {
		return true
	}
	if target > 0 && target >= entry {
		return true
	}
	return false
}

func quantizeLots(size, step float64) float64 {
	if step <= 0 {
		return size
	}
	n := int64(size/step + 1e-9)
	return float64(n) * step
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
