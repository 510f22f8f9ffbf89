package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Webhook events that drive order materialization.
const (
	EventCheckoutSessionCompleted             = "checkout.session.completed"
	EventCheckoutSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// ErrInvalidWebhookSignature indicates the webhook payload failed signature verification.
var ErrInvalidWebhookSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is the verified subset of a processor event the API acts on.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// StripeWebhookVerifier checks Stripe-Signature headers against the endpoint secret.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for the given signing secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// Verify validates the payload signature and decodes the event envelope.
func (v *StripeWebhookVerifier) Verify(payload []byte, signature string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("stripe: webhook verifier is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	result := WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if result.Settles() && event.Data != nil {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		result.SessionID = session.ID
	}
	return result, nil
}

// Settles reports whether the event signals a paid checkout session.
func (e WebhookEvent) Settles() bool {
	return e.Type == EventCheckoutSessionCompleted || e.Type == EventCheckoutSessionAsyncPaymentSucceeded
}
