package domain

import "github.com/shopspring/decimal"

// PricingBreakdown captures the aggregated monetary results of pricing a cart.
type PricingBreakdown struct {
	Currency string
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
	Items    []ItemPricingBreakdown
}

// ItemPricingBreakdown stores the per-item pricing outputs after running the engine.
type ItemPricingBreakdown struct {
	Product   Product
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// NewPricingBreakdown sums the item totals and applies the shipping schedule.
func NewPricingBreakdown(currency string, items []ItemPricingBreakdown) PricingBreakdown {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Total)
	}
	totals := ComputeQuoteTotals(subtotal)
	return PricingBreakdown{
		Currency: currency,
		Subtotal: totals.Subtotal,
		Shipping: totals.Shipping,
		Total:    totals.Total,
		Items:    items,
	}
}
