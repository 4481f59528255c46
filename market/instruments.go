package market

import "math"

type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
	ContractSize  float64 // units of base per 1.0 lot
	LotStep       float64
	MinLot        float64
	MaxLot        float64
	MarginRate    float64
}

// Pip returns the price increment of one pip for this instrument.
func (m InstrumentMeta) Pip() float64 {
	return math.Pow(10, float64(m.PipLocation))
}

// UnitValue is the account-currency value of a one-unit price move for 1.0
// lot. quoteToAccount converts the quote currency into the account currency
// (1.0 when they match).
func (m InstrumentMeta) UnitValue(quoteToAccount float64) float64 {
	return m.ContractSize * quoteToAccount
}

// Margin returns the account-currency margin required to hold size lots at
// price. The instrument's margin rate applies, tightened to 1/leverage when
// the account allows less than the instrument does.
func (m InstrumentMeta) Margin(size, price, quoteToAccount, leverage float64) float64 {
	rate := m.MarginRate
	if leverage > 0 && 1/leverage > rate {
		rate = 1 / leverage
	}
	if rate <= 0 {
		rate = 1
	}
	return size * price * m.UnitValue(quoteToAccount) * rate
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {
		Name:          "EUR_USD",
		BaseCurrency:  "EUR",
		QuoteCurrency: "USD",
		PipLocation:   -4,
		ContractSize:  100_000,
		LotStep:       0.01,
		MinLot:        0.01,
		MaxLot:        100,
		MarginRate:    0.02,
	},
	"USD_JPY": {
		Name:          "USD_JPY",
		BaseCurrency:  "USD",
		QuoteCurrency: "JPY",
		PipLocation:   -2,
		ContractSize:  100_000,
		LotStep:       0.01,
		MinLot:        0.01,
		MaxLot:        100,
		MarginRate:    0.02,
	},
	"XAU_USD": {
		Name:          "XAU_USD",
		BaseCurrency:  "XAU",
		QuoteCurrency: "USD",
		PipLocation:   -1,
		ContractSize:  100,
		LotStep:       0.01,
		MinLot:        0.01,
		MaxLot:        50,
		MarginRate:    0.05,
	},
}
