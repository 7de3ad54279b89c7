package order

import (
	"github.com/shopspring/decimal"

	"fatfinger/internal/model"
)

var hundred = decimal.NewFromInt(100)

// SplitTiers divides amount across the plan. Every tier but the last is
// truncated to places; the last takes the remainder so the parts sum to
// amount exactly.
func SplitTiers(amount decimal.Decimal, plan model.TierPlan, places int32) []decimal.Decimal {
	out := make([]decimal.Decimal, len(plan))
	if len(plan) == 0 {
		return out
	}
	allocated := decimal.Zero
	for i := 0; i < len(plan)-1; i++ {
		part := amount.Mul(decimal.NewFromFloat(plan[i].Fraction)).Truncate(places)
		if part.Add(allocated).GreaterThan(amount) {
			part = amount.Sub(allocated)
		}
		out[i] = part
		allocated = allocated.Add(part)
	}
	out[len(plan)-1] = amount.Sub(allocated)
	return out
}

// TierPrice is entry * (1 + pct/100) rounded to places.
func TierPrice(entry decimal.Decimal, profitPercent float64, places int32) decimal.Decimal {
	factor := decimal.NewFromFloat(profitPercent).Div(hundred).Add(decimal.NewFromInt(1))
	return entry.Mul(factor).Round(places)
}

// BuyPrice is last * (1 - discount/100) rounded to places.
func BuyPrice(last decimal.Decimal, discountPercent float64, places int32) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(discountPercent).Div(hundred))
	return last.Mul(factor).Round(places)
}
