package models

import "github.com/shopspring/decimal"

// RecomputeTotal is the only place a cart or order total is derived.
// Every structural mutation of a line slice ends with a call to it.
func RecomputeTotal(lines []CartLine) float64 {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(decimal.NewFromFloat(line.Price).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total.Round(2).InexactFloat64()
}

// DiscountedPrice applies a percentage discount. Percentages outside 0..100
// are clamped.
func DiscountedPrice(total, discountPercent float64) float64 {
	if discountPercent < 0 {
		discountPercent = 0
	}
	if discountPercent > 100 {
		discountPercent = 100
	}
	hundred := decimal.NewFromInt(100)
	factor := hundred.Sub(decimal.NewFromFloat(discountPercent))
	return decimal.NewFromFloat(total).Mul(factor).Div(hundred).Round(2).InexactFloat64()
}
