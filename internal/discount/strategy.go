// Package discount prices deals. Strategies are a closed set of variants
// dispatched by Compute; invalid input always degrades to a zero discount.
package discount

import "github.com/shopspring/decimal"

const (
	// rateScale is the precision of the percentage rate before it is applied
	rateScale = 4
	// moneyScale is the precision of every discount amount
	moneyScale = 2
)

var hundred = decimal.NewFromInt(100)

// Strategy is one of Percentage or FixedAmount
type Strategy interface {
	isStrategy()
}

// Percentage discounts Value percentage points of the line price (15 = 15%)
type Percentage struct {
	Value decimal.NullDecimal
}

// FixedAmount discounts Value per unit, capped at the line price
type FixedAmount struct {
	Value decimal.NullDecimal
}

func (Percentage) isStrategy()  {}
func (FixedAmount) isStrategy() {}

// Compute returns the discount granted by s on quantity units at unitPrice.
// The result is rounded to two decimals, half-up. Absent prices or values,
// negative values, non-positive quantities and unknown strategies yield zero.
func Compute(s Strategy, unitPrice decimal.NullDecimal, quantity int) decimal.Decimal {
	if !unitPrice.Valid || quantity <= 0 {
		return decimal.Zero
	}
	qty := decimal.NewFromInt(int64(quantity))
	linePrice := unitPrice.Decimal.Mul(qty)

	switch v := s.(type) {
	case Percentage:
		if !validValue(v.Value) {
			return decimal.Zero
		}
		rate := v.Value.Decimal.DivRound(hundred, rateScale)
		return linePrice.Mul(rate).Round(moneyScale)
	case FixedAmount:
		if !validValue(v.Value) {
			return decimal.Zero
		}
		total := v.Value.Decimal.Mul(qty)
		return decimal.Min(total, linePrice).Round(moneyScale)
	default:
		return decimal.Zero
	}
}

func validValue(v decimal.NullDecimal) bool {
	return v.Valid && !v.Decimal.IsNegative()
}
