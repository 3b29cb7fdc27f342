package discount

import (
	"github.com/fjod/electronics-store/internal/domain"
	"github.com/shopspring/decimal"
)

// Calculator resolves deals to strategies
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// StrategyFor maps a deal to its strategy. The second result is false for a
// nil deal or an unrecognized type.
func StrategyFor(deal *domain.Deal) (Strategy, bool) {
	if deal == nil {
		return nil, false
	}
	value := decimal.NewNullDecimal(deal.DiscountValue)
	switch deal.Type {
	case domain.DealTypePercentage:
		return Percentage{Value: value}, true
	case domain.DealTypeFixedAmount:
		return FixedAmount{Value: value}, true
	default:
		return nil, false
	}
}

// CalculateDiscount returns the discount one deal grants on a line
func (c *Calculator) CalculateDiscount(deal *domain.Deal, unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	strategy, ok := StrategyFor(deal)
	if !ok {
		return decimal.Zero
	}
	return Compute(strategy, decimal.NewNullDecimal(unitPrice), quantity)
}

// TotalDiscount adds the discounts of every deal, each computed against the
// original line price. Deals do not compound.
func (c *Calculator) TotalDiscount(deals []domain.Deal, unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	total := decimal.Zero
	for i := range deals {
		total = total.Add(c.CalculateDiscount(&deals[i], unitPrice, quantity))
	}
	return total
}
