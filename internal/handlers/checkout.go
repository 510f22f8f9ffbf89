package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tiendaplus/api/internal/platform/auth"
	"github.com/tiendaplus/api/internal/platform/httpx"
	"github.com/tiendaplus/api/internal/platform/idempotency"
	"github.com/tiendaplus/api/internal/services"
)

const (
	maxCheckoutRequestBody = 8 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"
)

// CheckoutHandlers exposes checkout related endpoints for authenticated customers.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards session creation with the given idempotency middleware. It runs
// after authentication so stored responses are scoped to the caller.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	session := group
	if h.idempotency != nil {
		session = session.With(h.idempotency)
	}
	session.Post("/session", h.createSession)
	group.Post("/confirm", h.confirmCheckout)
}

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutSessionRequest struct {
	StoreID    string                `json:"store_id"`
	Items      []checkoutItemRequest `json:"items"`
	Address    string                `json:"address"`
	SuccessURL string                `json:"success_url"`
	CancelURL  string                `json:"cancel_url"`
	Locale     string                `json:"locale"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	Currency  string `json:"currency"`
	Subtotal  string `json:"subtotal"`
	Shipping  string `json:"shipping"`
	Total     string `json:"total"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type checkoutConfirmRequest struct {
	SessionID string `json:"session_id"`
}

type checkoutConfirmResponse struct {
	Status   string       `json:"status"`
	Replayed bool         `json:"replayed"`
	Order    orderPayload `json:"order"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	var req checkoutSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := make([]services.CheckoutItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	key, _ := idempotency.KeyFromContext(ctx)
	cmd := services.CreateCheckoutSessionCommand{
		CustomerUID:    identity.UID,
		CustomerEmail:  identity.Email,
		CustomerName:   identity.Name,
		StoreID:        strings.TrimSpace(req.StoreID),
		Address:        req.Address,
		Items:          items,
		SuccessURL:     strings.TrimSpace(req.SuccessURL),
		CancelURL:      strings.TrimSpace(req.CancelURL),
		Locale:         firstNonEmpty(strings.TrimSpace(req.Locale), identity.Locale),
		IdempotencyKey: firstNonEmpty(key, strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))),
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{
		SessionID: session.SessionID,
		Provider:  session.Provider,
		URL:       session.URL,
		Currency:  session.Currency,
		Subtotal:  formatMoney(session.Subtotal),
		Shipping:  formatMoney(session.Shipping),
		Total:     formatMoney(session.Total),
		ExpiresAt: formatTime(session.ExpiresAt),
	})
}

func (h *CheckoutHandlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	// The success redirect lands with ?session_id=..., so the body is optional.
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	switch {
	case err == nil:
		var req checkoutConfirmRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
		sessionID = firstNonEmpty(strings.TrimSpace(req.SessionID), sessionID)
	case errors.Is(err, errEmptyBody):
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.ConfirmCheckout(ctx, services.ConfirmCheckoutCommand{
		SessionID: sessionID,
		ActorUID:  identity.UID,
		Source:    services.ConfirmSourceAPI,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutConfirmResponse{
		Status:   "confirmed",
		Replayed: result.Replayed,
		Order:    buildOrderPayload(result.Order),
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		fieldErr *services.FieldError
		stockErr *services.StockError
	)
	switch {
	case errors.As(err, &fieldErr) && errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fieldErr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"field": fieldErr.Field}))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock to fulfil the order", http.StatusConflict).
			WithDetails(map[string]any{
				"product_id": stockErr.ProductID,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			}))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock to fulfil the order", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_in_progress", "payment confirmation already in progress; retry shortly", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutSessionIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("session_incomplete", "checkout session has not been paid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutDiscrepancy):
		httpx.WriteError(ctx, w, httpx.NewError("amount_discrepancy", "captured amount does not match the order total", http.StatusInternalServerError))
	case errors.Is(err, services.ErrCheckoutGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment processor request failed", http.StatusInternalServerError))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
