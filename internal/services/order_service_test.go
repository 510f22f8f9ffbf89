package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/repositories"
)

type orderFixture struct {
	store   *memoryStore
	audit   *recordingAudit
	events  *recordingEvents
	metrics *recordingMetrics
	svc     OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	store := newMemoryStore()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.putCustomer(domain.Customer{ID: "cus_1", UID: "uid-1", Email: "ana@example.com"})

	ctx := context.Background()
	order := domain.Order{
		ID:         "ord_1",
		StoreID:    "sto_1",
		CustomerID: "cus_1",
		CartID:     "crt_1",
		Status:     domain.OrderStatusProcessed,
		Currency:   "BOB",
		Total:      decimal.NewFromInt(110),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := store.Payments().Insert(ctx, domain.Payment{ID: "pay_1", OrderID: "ord_1", StoreID: "sto_1", IntentID: "pi_1", Status: domain.PaymentStatusCompleted}); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	if err := store.Shipments().Insert(ctx, domain.Shipment{ID: "shp_1", OrderID: "ord_1", StoreID: "sto_1", Status: domain.ShipmentStatusInPreparation}); err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	bare := order
	bare.ID = "ord_bare"
	if err := store.Orders().Insert(ctx, bare); err != nil {
		t.Fatalf("seed bare order: %v", err)
	}

	f := &orderFixture{
		store:   store,
		audit:   &recordingAudit{},
		events:  &recordingEvents{},
		metrics: newRecordingMetrics(),
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      store.Orders(),
		Payments:    store.Payments(),
		Shipments:   store.Shipments(),
		Customers:   store.Customers(),
		UnitOfWork:  store,
		Audit:       f.audit,
		Events:      f.events,
		Metrics:     f.metrics,
		Clock:       func() time.Time { return now.Add(time.Hour) },
		IDGenerator: sequenceIDs(),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.svc = svc
	return f
}

func strPtr(value string) *string { return &value }

func TestUpdateStatusesInvalidShipmentLeavesOrderUntouched(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.UpdateStatuses(context.Background(), UpdateOrderStatusesCommand{
		StoreID:        "sto_1",
		OrderID:        "ord_1",
		ShipmentStatus: strPtr("LOST_AT_SEA"),
	})
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != StatusFieldShipment || fieldErr.Value != "LOST_AT_SEA" {
		t.Fatalf("expected shipment_status field error, got %v", err)
	}
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput in chain, got %v", err)
	}

	order, err := f.svc.GetStoreOrder(context.Background(), "sto_1", "ord_1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusProcessed || order.Payment.Status != domain.PaymentStatusCompleted || order.Shipment.Status != domain.ShipmentStatusInPreparation {
		t.Fatalf("expected untouched statuses, got %s/%s/%s", order.Status, order.Payment.Status, order.Shipment.Status)
	}
	if len(f.audit.records) != 0 || len(f.events.events) != 0 {
		t.Fatalf("invalid update must not audit or publish")
	}
}

func TestUpdateStatusesValidatesEveryFieldBeforeWriting(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.UpdateStatuses(context.Background(), UpdateOrderStatusesCommand{
		StoreID:       "sto_1",
		OrderID:       "ord_1",
		OrderStatus:   strPtr("shipped"),
		PaymentStatus: strPtr("bogus"),
	})
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != StatusFieldPayment {
		t.Fatalf("expected payment_status field error, got %v", err)
	}
	order, _ := f.svc.GetStoreOrder(context.Background(), "sto_1", "ord_1")
	if order.Status != domain.OrderStatusProcessed {
		t.Fatalf("order status must not change when another field is invalid, got %s", order.Status)
	}
}

func TestUpdateStatusesAppliesPartialUpdate(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.UpdateStatuses(context.Background(), UpdateOrderStatusesCommand{
		StoreID:        "sto_1",
		OrderID:        "ord_1",
		OrderStatus:    strPtr(" shipped "),
		ShipmentStatus: strPtr("IN_TRANSIT"),
		PaymentStatus:  strPtr("COMPLETED"),
		ActorUID:       "staff-1",
	})
	if err != nil {
		t.Fatalf("UpdateStatuses: %v", err)
	}
	if order.Status != domain.OrderStatusShipped || order.Shipment.Status != domain.ShipmentStatusInTransit {
		t.Fatalf("unexpected statuses: %s/%s", order.Status, order.Shipment.Status)
	}
	if order.Payment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("payment status must stay COMPLETED, got %s", order.Payment.Status)
	}

	// The unchanged payment status is not audited.
	if len(f.audit.records) != 2 {
		t.Fatalf("expected 2 audit records, got %#v", f.audit.records)
	}
	for _, record := range f.audit.records {
		if record.Actor != "staff-1" || record.ActorType != "staff" || record.TargetRef != "/stores/sto_1/orders/ord_1" {
			t.Fatalf("unexpected audit record: %#v", record)
		}
	}
	if diff := f.audit.records[0].Diff[StatusFieldOrder]; diff.Before != "PROCESSED" || diff.After != "SHIPPED" {
		t.Fatalf("unexpected order diff: %#v", f.audit.records[0].Diff)
	}

	if len(f.events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.events.events))
	}
	event := f.events.events[0]
	if event.Type != OrderEventStatusChanged || event.Status != "SHIPPED" || event.Changes[StatusFieldShipment] != "IN_TRANSIT" {
		t.Fatalf("unexpected event: %#v", event)
	}
	if f.metrics.fields[StatusFieldOrder] != 1 || f.metrics.fields[StatusFieldShipment] != 1 || f.metrics.fields[StatusFieldPayment] != 0 {
		t.Fatalf("unexpected metrics: %#v", f.metrics.fields)
	}
}

func TestUpdateStatusesReadsCurrentStatusInsideTransaction(t *testing.T) {
	f := newOrderFixture(t)
	f.store.beforeTx = func() {
		f.store.beforeTx = nil
		if err := f.store.Orders().UpdateStatus(context.Background(), "ord_1", domain.OrderStatusShipped, time.Now()); err != nil {
			t.Errorf("concurrent update: %v", err)
		}
	}

	order, err := f.svc.UpdateStatuses(context.Background(), UpdateOrderStatusesCommand{
		StoreID:        "sto_1",
		OrderID:        "ord_1",
		OrderStatus:    strPtr("SHIPPED"),
		ShipmentStatus: strPtr("IN_TRANSIT"),
	})
	if err != nil {
		t.Fatalf("UpdateStatuses: %v", err)
	}
	if order.Status != domain.OrderStatusShipped || order.Shipment.Status != domain.ShipmentStatusInTransit {
		t.Fatalf("unexpected statuses: %s/%s", order.Status, order.Shipment.Status)
	}
	if len(f.audit.records) != 1 {
		t.Fatalf("expected only the shipment change to be audited, got %#v", f.audit.records)
	}
	if _, ok := f.audit.records[0].Diff[StatusFieldOrder]; ok {
		t.Fatalf("order status already committed by another writer must not be audited")
	}
}

func TestUpdateStatusesNoopReturnsLockedOrder(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.UpdateStatuses(context.Background(), UpdateOrderStatusesCommand{
		StoreID:     "sto_1",
		OrderID:     "ord_1",
		OrderStatus: strPtr("processed"),
	})
	if err != nil {
		t.Fatalf("UpdateStatuses: %v", err)
	}
	if order.ID != "ord_1" || order.Status != domain.OrderStatusProcessed || order.Payment == nil {
		t.Fatalf("unexpected order: %#v", order)
	}
	if len(f.audit.records) != 0 || len(f.events.events) != 0 {
		t.Fatalf("unchanged statuses must not audit or publish")
	}
}

func TestUpdateStatusesErrors(t *testing.T) {
	f := newOrderFixture(t)
	cases := []struct {
		name string
		cmd  UpdateOrderStatusesCommand
		want error
	}{
		{name: "no fields", cmd: UpdateOrderStatusesCommand{StoreID: "sto_1", OrderID: "ord_1"}, want: ErrOrderInvalidInput},
		{name: "missing ids", cmd: UpdateOrderStatusesCommand{OrderStatus: strPtr("SHIPPED")}, want: ErrOrderInvalidInput},
		{name: "other store", cmd: UpdateOrderStatusesCommand{StoreID: "sto_2", OrderID: "ord_1", OrderStatus: strPtr("SHIPPED")}, want: ErrOrderNotFound},
		{name: "unknown order", cmd: UpdateOrderStatusesCommand{StoreID: "sto_1", OrderID: "ord_x", OrderStatus: strPtr("SHIPPED")}, want: ErrOrderNotFound},
		{name: "payment missing", cmd: UpdateOrderStatusesCommand{StoreID: "sto_1", OrderID: "ord_bare", PaymentStatus: strPtr("REFUNDED")}, want: ErrOrderPaymentNotFound},
		{name: "shipment missing", cmd: UpdateOrderStatusesCommand{StoreID: "sto_1", OrderID: "ord_bare", ShipmentStatus: strPtr("SHIPPED")}, want: ErrOrderShipmentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.UpdateStatuses(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestListStoreOrdersBuildsFilter(t *testing.T) {
	f := newOrderFixture(t)
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	unassigned := true

	page, err := f.svc.ListStoreOrders(context.Background(), ListStoreOrdersQuery{
		StoreID:          "sto_1",
		Statuses:         []string{"processed", "SHIPPED"},
		SellerUnassigned: &unassigned,
		CreatedAfter:     &after,
		Search:           "<b>ana</b>  lopez",
		OrderBy:          "total",
		Descending:       true,
		Pagination:       domain.Pagination{PageSize: 5},
	})
	if err != nil {
		t.Fatalf("ListStoreOrders: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(page.Items))
	}

	filter := f.store.lastStoreFilter
	if len(filter.Statuses) != 2 || filter.Statuses[0] != domain.OrderStatusProcessed || filter.Statuses[1] != domain.OrderStatusShipped {
		t.Fatalf("unexpected statuses: %#v", filter.Statuses)
	}
	if filter.Search != "ana lopez" {
		t.Fatalf("expected sanitized search, got %q", filter.Search)
	}
	if filter.SortBy != repositories.OrderSortTotal || filter.SortOrder != domain.SortDesc {
		t.Fatalf("unexpected sort: %s %s", filter.SortBy, filter.SortOrder)
	}
	if filter.SellerUnassigned == nil || !*filter.SellerUnassigned || filter.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter: %#v", filter)
	}
}

func TestListStoreOrdersDefaultsToNewestFirst(t *testing.T) {
	f := newOrderFixture(t)
	if _, err := f.svc.ListStoreOrders(context.Background(), ListStoreOrdersQuery{StoreID: "sto_1"}); err != nil {
		t.Fatalf("ListStoreOrders: %v", err)
	}
	if f.store.lastStoreFilter.SortBy != repositories.OrderSortCreatedAt || f.store.lastStoreFilter.SortOrder != domain.SortDesc {
		t.Fatalf("unexpected default sort: %#v", f.store.lastStoreFilter)
	}
}

func TestListStoreOrdersValidation(t *testing.T) {
	f := newOrderFixture(t)
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	after := before.Add(time.Hour)

	cases := map[string]ListStoreOrdersQuery{
		"missing store":  {},
		"invalid status": {StoreID: "sto_1", Statuses: []string{"LOST"}},
		"inverted range": {StoreID: "sto_1", CreatedAfter: &after, CreatedBefore: &before},
		"unknown sort":   {StoreID: "sto_1", OrderBy: "password"},
	}
	for name, query := range cases {
		if _, err := f.svc.ListStoreOrders(context.Background(), query); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected ErrOrderInvalidInput, got %v", name, err)
		}
	}
}

func TestListCustomerOrders(t *testing.T) {
	f := newOrderFixture(t)

	page, err := f.svc.ListCustomerOrders(context.Background(), ListCustomerOrdersQuery{CustomerUID: "uid-1"})
	if err != nil {
		t.Fatalf("ListCustomerOrders: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(page.Items))
	}

	page, err = f.svc.ListCustomerOrders(context.Background(), ListCustomerOrdersQuery{CustomerUID: "uid-new"})
	if err != nil {
		t.Fatalf("ListCustomerOrders unknown customer: %v", err)
	}
	if len(page.Items) != 0 || page.Items == nil {
		t.Fatalf("expected empty non-nil page, got %#v", page.Items)
	}

	if _, err := f.svc.ListCustomerOrders(context.Background(), ListCustomerOrdersQuery{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}
