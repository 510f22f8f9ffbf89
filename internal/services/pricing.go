package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/payments"
)

// PricingMode selects how stock shortfalls are reported.
type PricingMode int

const (
	// PricingModeQuote runs before payment. Stock is advisory and a shortfall is a validation error.
	PricingModeQuote PricingMode = iota
	// PricingModeConfirm runs on locked rows inside the commit. A shortfall aborts the transaction.
	PricingModeConfirm
)

const maxCheckoutItems = 10

// ProductLookup returns the active products of a store among ids.
type ProductLookup func(ctx context.Context, storeID string, ids []string) ([]domain.Product, error)

// NormalizeCheckoutItems merges duplicate product ids and orders the result by product id so
// that row locks are always acquired in the same order.
func NormalizeCheckoutItems(items []CheckoutItemInput) ([]domain.CheckoutItem, error) {
	if len(items) == 0 {
		return nil, &FieldError{Field: "items", Reason: "at least one item is required", Err: ErrCheckoutInvalidInput}
	}
	quantities := make(map[string]int, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, &FieldError{Field: fmt.Sprintf("items[%d].product_id", i), Reason: "is required", Err: ErrCheckoutInvalidInput}
		}
		if item.Quantity <= 0 {
			return nil, &FieldError{Field: fmt.Sprintf("items[%d].quantity", i), Value: fmt.Sprint(item.Quantity), Reason: "must be positive", Err: ErrCheckoutInvalidInput}
		}
		quantities[id] += item.Quantity
	}
	if len(quantities) > maxCheckoutItems {
		return nil, &FieldError{Field: "items", Reason: fmt.Sprintf("at most %d distinct products", maxCheckoutItems), Err: ErrCheckoutInvalidInput}
	}

	normalized := make([]domain.CheckoutItem, 0, len(quantities))
	for id, qty := range quantities {
		normalized = append(normalized, domain.CheckoutItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].ProductID < normalized[j].ProductID
	})
	if err := domain.CheckoutItemsFit(normalized); err != nil {
		return nil, &FieldError{Field: "items", Reason: "too many distinct products for one checkout", Err: ErrCheckoutInvalidInput}
	}
	return normalized, nil
}

// PriceCart prices items against the current catalog of storeID. Items must already be
// normalized. Every product must exist and be active in the store.
func PriceCart(ctx context.Context, lookup ProductLookup, storeID string, currency string, items []domain.CheckoutItem, mode PricingMode) (domain.PricingBreakdown, error) {
	if len(items) == 0 {
		return domain.PricingBreakdown{}, &FieldError{Field: "items", Reason: "at least one item is required", Err: ErrCheckoutInvalidInput}
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	products, err := lookup(ctx, storeID, ids)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}
	byID := make(map[string]domain.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	lines := make([]domain.ItemPricingBreakdown, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok || !product.Active || product.StoreID != storeID {
			return domain.PricingBreakdown{}, fmt.Errorf("%w: product %s", ErrCheckoutNotFound, item.ProductID)
		}
		if item.Quantity > product.Stock {
			if mode == PricingModeConfirm {
				return domain.PricingBreakdown{}, &StockError{ProductID: product.ID, Requested: item.Quantity, Available: product.Stock}
			}
			return domain.PricingBreakdown{}, &FieldError{
				Field:  "items",
				Value:  product.ID,
				Reason: fmt.Sprintf("insufficient stock for product %s", product.ID),
				Err:    ErrCheckoutInvalidInput,
			}
		}
		unit := domain.RoundMoney(product.Price)
		lines = append(lines, domain.ItemPricingBreakdown{
			Product:   product,
			Quantity:  item.Quantity,
			UnitPrice: unit,
			Total:     unit.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	return domain.NewPricingBreakdown(currency, lines), nil
}

// VerifyCapturedAmount compares the recomputed total with the amount the processor collected.
func VerifyCapturedAmount(expected decimal.Decimal, capturedMinor int64) error {
	captured := payments.FromMinorUnits(capturedMinor)
	if !domain.RoundMoney(expected).Equal(domain.RoundMoney(captured)) {
		return &DiscrepancyError{Expected: domain.RoundMoney(expected), Captured: captured}
	}
	return nil
}
