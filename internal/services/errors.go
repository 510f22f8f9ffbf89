package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tiendaplus/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutNotFound indicates a referenced store, customer, product or session does not exist.
	ErrCheckoutNotFound = errors.New("checkout: not found")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutInsufficientStock indicates the locked stock cannot cover the requested quantity.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutSessionIncomplete indicates the processor session has not been paid yet.
	ErrCheckoutSessionIncomplete = errors.New("checkout: session not complete")
	// ErrCheckoutDiscrepancy indicates the recomputed total differs from the captured amount.
	ErrCheckoutDiscrepancy = errors.New("checkout: amount discrepancy")
	// ErrCheckoutGateway indicates the payment processor call failed.
	ErrCheckoutGateway = errors.New("checkout: payment gateway error")
	// ErrCheckoutInProgress indicates another confirmation of the same payment is still committing.
	ErrCheckoutInProgress = errors.New("checkout: confirmation in progress")

	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderPaymentNotFound indicates a payment status update targeted an order without payment.
	ErrOrderPaymentNotFound = errors.New("order: payment not found")
	// ErrOrderShipmentNotFound indicates a shipment status update targeted an order without shipment.
	ErrOrderShipmentNotFound = errors.New("order: shipment not found")
	// ErrOrderUnavailable indicates order storage is currently unavailable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// FieldError names the input field that failed validation.
type FieldError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = fmt.Sprintf("invalid value %q", e.Value)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Field, reason)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, reason)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// DiscrepancyError reports a recomputed total that does not match what the processor captured.
type DiscrepancyError struct {
	Expected decimal.Decimal
	Captured decimal.Decimal
}

func (e *DiscrepancyError) Error() string {
	return fmt.Sprintf("%v: expected %s, captured %s", ErrCheckoutDiscrepancy, e.Expected.StringFixed(2), e.Captured.StringFixed(2))
}

func (e *DiscrepancyError) Unwrap() error {
	return ErrCheckoutDiscrepancy
}

// StockError reports the first product whose stock could not cover the cart.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product %s requested %d, available %d", ErrCheckoutInsufficientStock, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrCheckoutInsufficientStock
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

// translateCheckoutError maps repository failures onto checkout sentinels. Errors that already
// carry a checkout sentinel pass through untouched.
func translateCheckoutError(err error, entity string) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrCheckoutInvalidInput, ErrCheckoutNotFound, ErrCheckoutUnavailable, ErrCheckoutInsufficientStock,
		ErrCheckoutSessionIncomplete, ErrCheckoutDiscrepancy, ErrCheckoutGateway, ErrCheckoutInProgress,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrCheckoutNotFound, entity)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrCheckoutUnavailable, entity, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrCheckoutUnavailable, entity, err)
}

func translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrOrderInvalidInput, ErrOrderNotFound, ErrOrderPaymentNotFound, ErrOrderShipmentNotFound, ErrOrderUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	if isRepoNotFound(err) {
		return ErrOrderNotFound
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
