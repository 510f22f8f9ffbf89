package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/platform/auth"
	"github.com/tiendaplus/api/internal/platform/httpx"
	"github.com/tiendaplus/api/internal/platform/pagination"
	"github.com/tiendaplus/api/internal/services"
)

// OrderHandlers exposes the caller's own orders.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	page, err := h.orders.ListCustomerOrders(ctx, services.ListCustomerOrdersQuery{
		CustomerUID: strings.TrimSpace(identity.UID),
		Pagination:  params.Page,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID         string                `json:"id"`
	StoreID    string                `json:"store_id"`
	CustomerID string                `json:"customer_id"`
	CartID     string                `json:"cart_id,omitempty"`
	SellerID   *string               `json:"seller_id"`
	Status     string                `json:"status"`
	Currency   string                `json:"currency"`
	Subtotal   string                `json:"subtotal"`
	Shipping   string                `json:"shipping"`
	Total      string                `json:"total"`
	Lines      []orderLinePayload    `json:"lines"`
	Payment    *orderPaymentPayload  `json:"payment,omitempty"`
	Shipment   *orderShipmentPayload `json:"shipment,omitempty"`
	Customer   *orderCustomerPayload `json:"customer,omitempty"`
	CreatedAt  string                `json:"created_at"`
	UpdatedAt  string                `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
}

type orderPaymentPayload struct {
	ID        string `json:"id"`
	IntentID  string `json:"intent_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type orderShipmentPayload struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type orderCustomerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func buildOrderList(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:         order.ID,
		StoreID:    order.StoreID,
		CustomerID: order.CustomerID,
		CartID:     order.CartID,
		SellerID:   order.SellerID,
		Status:     string(order.Status),
		Currency:   strings.ToUpper(order.Currency),
		Subtotal:   formatMoney(order.Subtotal),
		Shipping:   formatMoney(order.Shipping),
		Total:      formatMoney(order.Total),
		Lines:      make([]orderLinePayload, 0, len(order.Lines)),
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTime(order.UpdatedAt),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID: line.ProductID,
			Name:      line.ProductName,
			Quantity:  line.Quantity,
			UnitPrice: formatMoney(line.UnitPrice),
			Total:     formatMoney(line.LineTotal()),
		})
	}
	if p := order.Payment; p != nil {
		payload.Payment = &orderPaymentPayload{
			ID:        p.ID,
			IntentID:  p.IntentID,
			Amount:    formatMoney(p.Amount),
			Currency:  strings.ToUpper(p.Currency),
			Status:    string(p.Status),
			CreatedAt: formatTime(p.CreatedAt),
			UpdatedAt: formatTime(p.UpdatedAt),
		}
	}
	if s := order.Shipment; s != nil {
		payload.Shipment = &orderShipmentPayload{
			ID:        s.ID,
			Address:   s.Address,
			Status:    string(s.Status),
			CreatedAt: formatTime(s.CreatedAt),
			UpdatedAt: formatTime(s.UpdatedAt),
		}
	}
	if c := order.Customer; c != nil {
		payload.Customer = &orderCustomerPayload{
			ID:    c.ID,
			Email: c.Email,
			Name:  c.DisplayName,
		}
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var fieldErr *services.FieldError
	switch {
	case errors.As(err, &fieldErr) && errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fieldErr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"field": fieldErr.Field}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "order has no payment record", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderShipmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", "order has no shipment record", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
