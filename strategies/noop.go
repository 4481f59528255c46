package strategies

import (
	"github.com/rustyeddy/barsim/backtest"
	"github.com/rustyeddy/barsim/market"
)

// Noop never signals. Useful for cost-free equity baselines and tests.
type Noop struct{}

func (Noop) Name() string                      { return "noop" }
func (Noop) Reset()                            {}
func (Noop) OnBar(market.Bar) *backtest.Signal { return nil }

// ForName returns a built-in strategy by name, or nil if unknown.
func ForName(name string) backtest.SignalSource {
	switch name {
	case "ema-cross":
		return NewEMACross(10, 30)
	case "breakout":
		return NewBreakout(20)
	case "noop":
		return Noop{}
	}
	return nil
}
