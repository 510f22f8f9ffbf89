package payments

import (
	"context"
	"errors"
	"time"
)

// SessionStatus is the processor-neutral state of a hosted checkout session.
type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGateway wraps failures reported by the payment processor or the network path to it.
	ErrGateway = errors.New("payments: gateway error")
	// ErrSessionNotFound is returned when the processor does not know the session id.
	ErrSessionNotFound = errors.New("payments: checkout session not found")
)

// CheckoutLineItem is one cart line. Amount is the unit price in minor units.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest is the processor-neutral session payload. Metadata carries the cart
// snapshot that confirmation reads back.
type CheckoutSessionRequest struct {
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession is what the customer is redirected to.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// CheckoutSessionDetails is the processor view of a session read back at confirmation time.
type CheckoutSessionDetails struct {
	ID              string
	Provider        string
	Status          SessionStatus
	PaymentStatus   string
	Metadata        map[string]string
	AmountTotal     int64
	Currency        string
	PaymentIntentID string
	CustomerEmail   string
}

// Provider is implemented by each payment processor adapter.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (CheckoutSessionDetails, error)
}
