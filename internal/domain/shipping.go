package domain

import "github.com/shopspring/decimal"

// ShippingTier is one band of the shipping schedule. Subtotals at or above
// Threshold use Rate unless a higher tier matches.
type ShippingTier struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
}

var shippingTiers = []ShippingTier{
	{Threshold: decimal.NewFromInt(1000), Rate: decimal.Zero},
	{Threshold: decimal.NewFromInt(500), Rate: decimal.RequireFromString("0.05")},
	{Threshold: decimal.NewFromInt(100), Rate: decimal.RequireFromString("0.10")},
	{Threshold: decimal.Zero, Rate: decimal.RequireFromString("0.15")},
}

// ShippingRate returns the percentage applied to the subtotal as a fraction.
func ShippingRate(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	for _, tier := range shippingTiers {
		if subtotal.GreaterThanOrEqual(tier.Threshold) {
			return tier.Rate
		}
	}
	return decimal.Zero
}

// ShippingCost computes the shipping charge for a subtotal, rounded half-up to cents.
// Quote and confirmation both call it, so the result must stay deterministic.
func ShippingCost(subtotal decimal.Decimal) decimal.Decimal {
	rate := ShippingRate(subtotal)
	if rate.IsZero() {
		return decimal.Zero.Round(2)
	}
	// Round is half away from zero, which equals half-up for positive amounts.
	return subtotal.Mul(rate).Round(2)
}

// QuoteTotals is the monetary summary shown at quote time and recomputed at confirmation.
type QuoteTotals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// ComputeQuoteTotals applies the shipping schedule to a subtotal.
func ComputeQuoteTotals(subtotal decimal.Decimal) QuoteTotals {
	subtotal = RoundMoney(subtotal)
	shipping := ShippingCost(subtotal)
	return QuoteTotals{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    subtotal.Add(shipping),
	}
}

// RoundMoney normalises an amount to two decimal places.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
