package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tiendaplus/api/internal/platform/auth"
	"github.com/tiendaplus/api/internal/platform/httpx"
	"github.com/tiendaplus/api/internal/platform/pagination"
	"github.com/tiendaplus/api/internal/services"
)

const maxAdminOrderBodySize = 4 * 1024

var adminOrderSortFields = []string{"created_at", "total", "status"}

// AdminOrderHandlers serves the staff order views of a single store.
type AdminOrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	staffRoles []string
}

// AdminOrderOption customises AdminOrderHandlers.
type AdminOrderOption func(*AdminOrderHandlers)

// WithStaffRoles overrides the roles allowed on staff routes.
func WithStaffRoles(roles ...string) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		cleaned := make([]string, 0, len(roles))
		for _, role := range roles {
			if role = strings.TrimSpace(role); role != "" {
				cleaned = append(cleaned, role)
			}
		}
		if len(cleaned) > 0 {
			h.staffRoles = cleaned
		}
	}
}

// NewAdminOrderHandlers constructs staff order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{
		authn:      authn,
		orders:     orders,
		staffRoles: []string{auth.RoleStaff, auth.RoleAdmin},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /stores/{storeID}/orders under the admin group.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/stores/{storeID}/orders", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(h.staffRoles...))
		}
		rt.Use(auth.RequireStoreMembership(func(req *http.Request) string {
			return chi.URLParam(req, "storeID")
		}))
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Patch("/{orderID}", h.updateStatuses)
	})
}

type updateOrderStatusesRequest struct {
	Status         *string `json:"status"`
	PaymentStatus  *string `json:"payment_status"`
	ShipmentStatus *string `json:"shipment_status"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{SortFields: adminOrderSortFields})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	query := r.URL.Query()
	listQuery := services.ListStoreOrdersQuery{
		StoreID:    strings.TrimSpace(chi.URLParam(r, "storeID")),
		Statuses:   parseFilterValues(query["status"]),
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		SellerID:   strings.TrimSpace(query.Get("seller_id")),
		Search:     query.Get("search"),
		OrderBy:    params.Sort.Field,
		Descending: params.Sort.Desc,
		Pagination: params.Page,
	}

	if raw := strings.TrimSpace(query.Get("seller_unassigned")); raw != "" {
		var unassigned bool
		switch strings.ToLower(raw) {
		case "true", "1":
			unassigned = true
		case "false", "0":
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "seller_unassigned must be true or false", http.StatusBadRequest))
			return
		}
		listQuery.SellerUnassigned = &unassigned
	}

	for _, bound := range []struct {
		name   string
		target **time.Time
	}{
		{"created_after", &listQuery.CreatedAfter},
		{"created_before", &listQuery.CreatedBefore},
	} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", bound.name+" must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		*bound.target = &ts
	}

	page, err := h.orders.ListStoreOrders(ctx, listQuery)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetStoreOrder(ctx, chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) updateStatuses(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxAdminOrderBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	var req updateOrderStatusesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatuses(ctx, services.UpdateOrderStatusesCommand{
		StoreID:        chi.URLParam(r, "storeID"),
		OrderID:        chi.URLParam(r, "orderID"),
		OrderStatus:    req.Status,
		PaymentStatus:  req.PaymentStatus,
		ShipmentStatus: req.ShipmentStatus,
		ActorUID:       identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
