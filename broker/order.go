package broker

import "time"

// OrderType tags how an entry executes. The execution engine switches on
// the tag exhaustively; there is no dispatch hierarchy behind it.
type OrderType int8

const (
	OrderMarket OrderType = iota
	OrderStop             // fills when price crosses the trigger in the breakout direction
	OrderLimit            // fills when price crosses the trigger in the retracement direction
)

func (t OrderType) String() string {
	switch t {
	case OrderMarket:
		return "MARKET"
	case OrderStop:
		return "STOP"
	case OrderLimit:
		return "LIMIT"
	}
	return "UNKNOWN"
}

// PendingOrder is a resting stop or limit entry. It is created when the
// risk engine accepts a non-market trade and is consumed (converted into a
// Position) or expired by the execution engine.
type PendingOrder struct {
	Ticket     int
	Instrument string
	Side       Side
	Type       OrderType
	Trigger    float64
	Size       float64 // lots
	StopLoss   float64
	TakeProfit float64
	Created    time.Time
	Expiry     time.Time // zero means good-till-end
}

// ExpiredAt reports whether the order's validity window has elapsed.
func (o *PendingOrder) ExpiredAt(now time.Time) bool {
	return !o.Expiry.IsZero() && !now.Before(o.Expiry)
}
