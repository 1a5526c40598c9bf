package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are charged in whole units by the payment processor.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// Snapshot is the read-only view of the cart taken when checkout needs an amount.
type Snapshot struct {
	Lines      []Line          `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	CapturedAt time.Time       `json:"capturedAt"`
}

// MinorUnits converts Total into the currency's smallest unit, rounding half
// away from zero.
func (s Snapshot) MinorUnits() int64 {
	return MinorUnits(s.Total, s.Currency)
}

func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[currency] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}
