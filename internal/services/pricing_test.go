package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/tiendaplus/api/internal/domain"
)

func staticLookup(products ...domain.Product) ProductLookup {
	return func(_ context.Context, storeID string, ids []string) ([]domain.Product, error) {
		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		var out []domain.Product
		for _, product := range products {
			if wanted[product.ID] && product.StoreID == storeID && product.Active {
				out = append(out, product)
			}
		}
		return out, nil
	}
}

func product(id, price string, stock int) domain.Product {
	return domain.Product{ID: id, StoreID: "sto_1", Name: id, Price: decimal.RequireFromString(price), Stock: stock, Active: true}
}

func TestPriceCartScenarios(t *testing.T) {
	cases := []struct {
		name     string
		products []domain.Product
		items    []domain.CheckoutItem
		shipping string
		total    string
	}{
		{
			name:     "ten percent tier",
			products: []domain.Product{product("prod_a", "50", 10)},
			items:    []domain.CheckoutItem{{ProductID: "prod_a", Quantity: 2}},
			shipping: "10.00",
			total:    "110.00",
		},
		{
			name:     "free items",
			products: []domain.Product{product("prod_free", "0", 10)},
			items:    []domain.CheckoutItem{{ProductID: "prod_free", Quantity: 3}},
			shipping: "0.00",
			total:    "0.00",
		},
		{
			name:     "five percent tier rounds half up",
			products: []domain.Product{product("prod_c", "999.99", 1)},
			items:    []domain.CheckoutItem{{ProductID: "prod_c", Quantity: 1}},
			shipping: "50.00",
			total:    "1049.99",
		},
		{
			name:     "free shipping tier",
			products: []domain.Product{product("prod_d", "250", 10)},
			items:    []domain.CheckoutItem{{ProductID: "prod_d", Quantity: 4}},
			shipping: "0.00",
			total:    "1000.00",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			breakdown, err := PriceCart(context.Background(), staticLookup(tc.products...), "sto_1", "BOB", tc.items, PricingModeQuote)
			if err != nil {
				t.Fatalf("PriceCart: %v", err)
			}
			if breakdown.Shipping.StringFixed(2) != tc.shipping || breakdown.Total.StringFixed(2) != tc.total {
				t.Fatalf("expected shipping %s total %s, got %s %s", tc.shipping, tc.total, breakdown.Shipping.StringFixed(2), breakdown.Total.StringFixed(2))
			}
			if breakdown.Currency != "BOB" {
				t.Fatalf("expected currency BOB, got %q", breakdown.Currency)
			}
		})
	}
}

func TestPriceCartStockModes(t *testing.T) {
	lookup := staticLookup(product("prod_a", "10", 1))
	items := []domain.CheckoutItem{{ProductID: "prod_a", Quantity: 2}}

	_, err := PriceCart(context.Background(), lookup, "sto_1", "BOB", items, PricingModeQuote)
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("quote: expected ErrCheckoutInvalidInput, got %v", err)
	}

	_, err = PriceCart(context.Background(), lookup, "sto_1", "BOB", items, PricingModeConfirm)
	var stockErr *StockError
	if !errors.As(err, &stockErr) || !errors.Is(err, ErrCheckoutInsufficientStock) {
		t.Fatalf("confirm: expected StockError, got %v", err)
	}
	if stockErr.ProductID != "prod_a" || stockErr.Requested != 2 || stockErr.Available != 1 {
		t.Fatalf("unexpected stock error: %#v", stockErr)
	}
}

func TestPriceCartScopesProductsToStore(t *testing.T) {
	foreign := product("prod_x", "10", 5)
	foreign.StoreID = "sto_2"
	_, err := PriceCart(context.Background(), staticLookup(foreign), "sto_1", "BOB", []domain.CheckoutItem{{ProductID: "prod_x", Quantity: 1}}, PricingModeQuote)
	if !errors.Is(err, ErrCheckoutNotFound) {
		t.Fatalf("expected ErrCheckoutNotFound, got %v", err)
	}
}

func TestPriceCartPropagatesLookupErrors(t *testing.T) {
	boom := errors.New("db down")
	lookup := func(context.Context, string, []string) ([]domain.Product, error) { return nil, boom }
	_, err := PriceCart(context.Background(), lookup, "sto_1", "BOB", []domain.CheckoutItem{{ProductID: "prod_a", Quantity: 1}}, PricingModeConfirm)
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestNormalizeCheckoutItems(t *testing.T) {
	items, err := NormalizeCheckoutItems([]CheckoutItemInput{
		{ProductID: " prod_b ", Quantity: 1},
		{ProductID: "prod_a", Quantity: 2},
		{ProductID: "prod_b", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("NormalizeCheckoutItems: %v", err)
	}
	if len(items) != 2 || items[0] != (domain.CheckoutItem{ProductID: "prod_a", Quantity: 2}) || items[1] != (domain.CheckoutItem{ProductID: "prod_b", Quantity: 5}) {
		t.Fatalf("unexpected items: %#v", items)
	}

	for _, bad := range [][]CheckoutItemInput{
		nil,
		{{ProductID: "", Quantity: 1}},
		{{ProductID: "prod_a", Quantity: -1}},
	} {
		if _, err := NormalizeCheckoutItems(bad); !errors.Is(err, ErrCheckoutInvalidInput) {
			t.Fatalf("expected ErrCheckoutInvalidInput for %#v, got %v", bad, err)
		}
	}
}

func TestNormalizeCheckoutItemsLimitsCartSize(t *testing.T) {
	cart := func(n int, idLen int) []CheckoutItemInput {
		items := make([]CheckoutItemInput, n)
		for i := range items {
			id := fmt.Sprintf("prd_%02d", i)
			items[i] = CheckoutItemInput{ProductID: id + strings.Repeat("x", idLen-len(id)), Quantity: 999}
		}
		return items
	}

	if items, err := NormalizeCheckoutItems(cart(maxCheckoutItems, 30)); err != nil || len(items) != maxCheckoutItems {
		t.Fatalf("expected %d ulid-sized products to fit, got %d items, err %v", maxCheckoutItems, len(items), err)
	}

	for name, items := range map[string][]CheckoutItemInput{
		"too many products": cart(maxCheckoutItems+2, 30),
		"ids too long":      cart(maxCheckoutItems, 60),
	} {
		_, err := NormalizeCheckoutItems(items)
		var fieldErr *FieldError
		if !errors.As(err, &fieldErr) || fieldErr.Field != "items" || !errors.Is(err, ErrCheckoutInvalidInput) {
			t.Fatalf("%s: expected items field error, got %v", name, err)
		}
	}
}

func TestVerifyCapturedAmount(t *testing.T) {
	if err := VerifyCapturedAmount(decimal.RequireFromString("110.00"), 11000); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := VerifyCapturedAmount(decimal.RequireFromString("110.004"), 11000); err != nil {
		t.Fatalf("expected match within two decimals, got %v", err)
	}

	err := VerifyCapturedAmount(decimal.RequireFromString("121.00"), 11000)
	var discrepancy *DiscrepancyError
	if !errors.As(err, &discrepancy) {
		t.Fatalf("expected DiscrepancyError, got %v", err)
	}
	if discrepancy.Expected.StringFixed(2) != "121.00" || discrepancy.Captured.StringFixed(2) != "110.00" {
		t.Fatalf("unexpected discrepancy: %v", discrepancy)
	}
	if !errors.Is(err, ErrCheckoutDiscrepancy) {
		t.Fatalf("expected ErrCheckoutDiscrepancy in chain")
	}
}
