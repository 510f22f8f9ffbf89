package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/platform/auth"
	"github.com/tiendaplus/api/internal/platform/pagination"
	"github.com/tiendaplus/api/internal/services"
)

func newAdminRouter(handler *AdminOrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func withStaff(req *http.Request, uid string, stores ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleStaff}, StoreIDs: stores}))
}

func TestAdminOrderHandlersListParsesFilters(t *testing.T) {
	var captured services.ListStoreOrdersQuery
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{
		listStoreFn: func(ctx context.Context, query services.ListStoreOrdersQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}))

	token := pagination.NextToken(0, 5, 5)
	target := "/admin/stores/sto_1/orders?status=processed,shipped&status=PROCESSED&customer_id=cus_1&seller_unassigned=true" +
		"&created_after=2025-01-01T00:00:00Z&created_before=2025-02-01T00:00:00%2B03:00&search=ana&order_by=-total&pageSize=5&pageToken=" + token
	req := withStaff(httptest.NewRequest(http.MethodGet, target, nil), "staff-1", "sto_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.StoreID != "sto_1" || captured.CustomerID != "cus_1" || captured.Search != "ana" {
		t.Fatalf("unexpected query %#v", captured)
	}
	if len(captured.Statuses) != 2 || captured.Statuses[0] != "PROCESSED" || captured.Statuses[1] != "SHIPPED" {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}
	if captured.SellerUnassigned == nil || !*captured.SellerUnassigned {
		t.Fatalf("expected seller_unassigned true")
	}
	if captured.CreatedAfter == nil || !captured.CreatedAfter.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_after %v", captured.CreatedAfter)
	}
	if captured.CreatedBefore == nil || !captured.CreatedBefore.Equal(time.Date(2025, 1, 31, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_before %v", captured.CreatedBefore)
	}
	if captured.OrderBy != "total" || !captured.Descending {
		t.Fatalf("unexpected ordering %q desc=%v", captured.OrderBy, captured.Descending)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != token {
		t.Fatalf("unexpected pagination %#v", captured.Pagination)
	}
}

func TestAdminOrderHandlersListRejectsBadParams(t *testing.T) {
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{}))

	for _, query := range []string{"seller_unassigned=maybe", "created_after=yesterday", "pageSize=x", "order_by=password", "pageToken=!!"} {
		req := withStaff(httptest.NewRequest(http.MethodGet, "/admin/stores/sto_1/orders?"+query, nil), "staff-1", "sto_1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", query, rr.Code)
		}
	}
}

func TestAdminOrderHandlersForbiddenStore(t *testing.T) {
	called := false
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{
		listStoreFn: func(context.Context, services.ListStoreOrdersQuery) (domain.CursorPage[services.Order], error) {
			called = true
			return domain.CursorPage[services.Order]{}, nil
		},
	}))

	req := withStaff(httptest.NewRequest(http.MethodGet, "/admin/stores/sto_2/orders", nil), "staff-1", "sto_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if body["error"] != "store_forbidden" {
		t.Fatalf("expected store_forbidden, got %v", body["error"])
	}
	if called {
		t.Fatalf("service must not be called for a foreign store")
	}
}

func TestAdminOrderHandlersGetOrder(t *testing.T) {
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{
		getFn: func(ctx context.Context, storeID, orderID string) (services.Order, error) {
			if storeID != "sto_1" {
				t.Fatalf("unexpected store %s", storeID)
			}
			if orderID != "ord_1" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}))

	req := withStaff(httptest.NewRequest(http.MethodGet, "/admin/stores/sto_1/orders/ord_1", nil), "staff-1", "sto_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	req = withStaff(httptest.NewRequest(http.MethodGet, "/admin/stores/sto_1/orders/ord_x", nil), "staff-1", "sto_1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersUpdateStatuses(t *testing.T) {
	var captured services.UpdateOrderStatusesCommand
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderStatusesCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}))

	req := withStaff(httptest.NewRequest(http.MethodPatch, "/admin/stores/sto_1/orders/ord_1", bytes.NewBufferString(`{"status":"shipped","shipment_status":"IN_TRANSIT"}`)), "staff-1", "sto_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.StoreID != "sto_1" || captured.OrderID != "ord_1" || captured.ActorUID != "staff-1" {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.OrderStatus == nil || *captured.OrderStatus != "shipped" || captured.PaymentStatus != nil {
		t.Fatalf("unexpected statuses %#v", captured)
	}
	if captured.ShipmentStatus == nil || *captured.ShipmentStatus != "IN_TRANSIT" {
		t.Fatalf("unexpected shipment status %#v", captured.ShipmentStatus)
	}

	var resp orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "SHIPPED" {
		t.Fatalf("expected SHIPPED, got %s", resp.Status)
	}
}

func TestAdminOrderHandlersUpdateFieldError(t *testing.T) {
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{
		updateFn: func(context.Context, services.UpdateOrderStatusesCommand) (services.Order, error) {
			return services.Order{}, &services.FieldError{Field: services.StatusFieldShipment, Value: "LOST", Err: services.ErrOrderInvalidInput}
		},
	}))

	req := withStaff(httptest.NewRequest(http.MethodPatch, "/admin/stores/sto_1/orders/ord_1", bytes.NewBufferString(`{"shipment_status":"LOST"}`)), "staff-1", "sto_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if body.Error != "invalid_request" || body.Field != "shipment_status" {
		t.Fatalf("unexpected error body %#v", body)
	}
}

func TestAdminOrderHandlersUpdateMissingShipment(t *testing.T) {
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{
		updateFn: func(context.Context, services.UpdateOrderStatusesCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderShipmentNotFound
		},
	}))

	req := withStaff(httptest.NewRequest(http.MethodPatch, "/admin/stores/sto_1/orders/ord_1", bytes.NewBufferString(`{"shipment_status":"SHIPPED"}`)), "staff-1", "sto_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
