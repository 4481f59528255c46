package sim

import "github.com/rustyeddy/barsim/market"

// SlippageMode selects how the adverse execution offset is computed.
type SlippageMode int8

const (
	SlippageFixed      SlippageMode = iota // fixed pip offset
	SlippageVolatility                     // fraction of the trailing ATR
)

// SpreadMode selects how the bid/ask spread around a bar close is derived.
type SpreadMode int8

const (
	SpreadFixed      SpreadMode = iota // fixed pip spread
	SpreadVolatility                   // fixed floor widened by a fraction of ATR
)

// CostModel is a frozen description of execution costs. The mode fields
// make the slippage/spread formula configuration-selectable rather than
// hard-coded; the fixed variants are the defaults.
type CostModel struct {
	SlippageMode SlippageMode
	SlippagePips float64 // fixed offset, in pips
	SlippageATR  float64 // volatility mode: offset = ATR * SlippageATR

	SpreadMode SpreadMode
	SpreadPips float64 // fixed spread (full bid/ask width), in pips
	SpreadATR  float64 // volatility mode: extra width = ATR * SpreadATR

	CommissionPerLot float64 // flat charge per executed lot
	CommissionPct    float64 // proportional charge on notional
	ATRPeriod        int     // trailing true-range window for the volatility modes
}

// DefaultCosts mirrors a conservative retail FX setup.
func DefaultCosts() CostModel {
	return CostModel{
		SlippageMode:     SlippageFixed,
		SlippagePips:     1,
		SpreadMode:       SpreadFixed,
		SpreadPips:       1,
		CommissionPerLot: 0,
		ATRPeriod:        14,
	}
}

// slippage returns the adverse price offset for one execution. atr is the
// trailing average true range through the previous bar; when the window is
// not warm the fixed offset applies regardless of mode, so early bars never
// execute cost-free.
func (c CostModel) slippage(meta market.InstrumentMeta, atr float64) float64 {
	if c.SlippageMode == SlippageVolatility && atr > 0 {
		return atr * c.SlippageATR
	}
	return c.SlippagePips * meta.Pip()
}

// spread returns the full bid/ask width at the current bar.
func (c CostModel) spread(meta market.InstrumentMeta, atr float64) float64 {
	base := c.SpreadPips * meta.Pip()
	if c.SpreadMode == SpreadVolatility && atr > 0 {
		return base + atr*c.SpreadATR
	}
	return base
}

// commission returns the charge for executing size lots at price, applied
// once per executed lot: a flat per-lot component plus a proportional
// component on the account-currency notional.
func (c CostModel) commission(size, price float64, meta market.InstrumentMeta, quoteToAccount float64) float64 {
	flat := size * c.CommissionPerLot
	notional := size * price * meta.UnitValue(quoteToAccount)
	return flat + c.CommissionPct*notional
}
