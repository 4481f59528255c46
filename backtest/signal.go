package backtest

import (
	"time"

	"github.com/rustyeddy/barsim/broker"
	"github.com/rustyeddy/barsim/market"
)

// Signal is a proposed entry produced by a strategy after a completed bar.
// The driver hands it to the risk engine; a signal is never an order.
type Signal struct {
	Side    broker.Side
	Type    broker.OrderType
	Entry   float64 // trigger for stop/limit entries; 0 means market at the close
	Stop    float64
	Target  float64
	Quality float64
	Expiry  time.Time // pending-order validity; zero means good-till-end
}

// SignalSource is the strategy surface the driver polls once per bar. It
// must be deterministic: the same bar sequence after Reset produces the
// same signals.
type SignalSource interface {
	Name() string
	Reset()
	OnBar(bar market.Bar) *Signal
}
