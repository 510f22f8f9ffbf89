package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tiendaplus/api/internal/payments"
	"github.com/tiendaplus/api/internal/platform/httpx"
	"github.com/tiendaplus/api/internal/services"
)

const (
	maxWebhookBodySize     = 64 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	webhookAcceptedMessage = "accepted"
)

// WebhookVerifier authenticates processor deliveries and decodes the event envelope.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (payments.WebhookEvent, error)
}

// StripeWebhookHandlers receives Stripe events. Authentication is the signature header, not Firebase.
type StripeWebhookHandlers struct {
	verifier WebhookVerifier
	checkout services.CheckoutService
}

// NewStripeWebhookHandlers constructs the Stripe webhook endpoint.
func NewStripeWebhookHandlers(verifier WebhookVerifier, checkout services.CheckoutService) *StripeWebhookHandlers {
	return &StripeWebhookHandlers{
		verifier: verifier,
		checkout: checkout,
	}
}

// Routes registers POST /stripe under the webhooks group.
func (h *StripeWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.receive)
}

func (h *StripeWebhookHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidWebhookSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	// Non-nil errors are transient; a 5xx makes Stripe redeliver.
	if err := h.checkout.HandleWebhookEvent(ctx, event); err != nil {
		if errors.Is(err, services.ErrCheckoutInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":  webhookAcceptedMessage,
		"eventId": event.ID,
	})
}
