package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/repositories"
)

const maxOrderSearchLength = 100

// Status fields accepted by UpdateStatuses, also used as metric labels.
const (
	StatusFieldOrder    = "status"
	StatusFieldPayment  = "payment_status"
	StatusFieldShipment = "shipment_status"
)

var orderSortFields = map[string]repositories.OrderSortField{
	"created_at": repositories.OrderSortCreatedAt,
	"total":      repositories.OrderSortTotal,
	"status":     repositories.OrderSortStatus,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRepository
	Shipments   repositories.ShipmentRepository
	Customers   repositories.CustomerRepository
	UnitOfWork  repositories.UnitOfWork
	Audit       AuditLogService
	Events      OrderEventPublisher
	Metrics     OrderMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	payments   repositories.PaymentRepository
	shipments  repositories.ShipmentRepository
	customers  repositories.CustomerRepository
	unitOfWork repositories.UnitOfWork
	audit      AuditLogService
	events     OrderEventPublisher
	metrics    OrderMetrics
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	sanitizer  *bluemonday.Policy
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Payments == nil:
		return nil, errors.New("order service: payment repository is required")
	case deps.Shipments == nil:
		return nil, errors.New("order service: shipment repository is required")
	case deps.Customers == nil:
		return nil, errors.New("order service: customer repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("order service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		shipments:  deps.Shipments,
		customers:  deps.Customers,
		unitOfWork: deps.UnitOfWork,
		audit:      deps.Audit,
		events:     deps.Events,
		metrics:    deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// ListCustomerOrders returns the caller's orders newest first. A caller that never bought gets an empty page.
func (s *orderService) ListCustomerOrders(ctx context.Context, query ListCustomerOrdersQuery) (domain.CursorPage[Order], error) {
	uid := strings.TrimSpace(query.CustomerUID)
	if uid == "" {
		return domain.CursorPage[Order]{}, &FieldError{Field: "customer", Reason: "authentication is required", Err: ErrOrderInvalidInput}
	}
	customer, err := s.customers.FindByUID(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.CursorPage[Order]{Items: []Order{}}, nil
		}
		return domain.CursorPage[Order]{}, translateOrderError(err)
	}
	page, err := s.orders.ListByCustomer(ctx, customer.ID, query.Pagination)
	if err != nil {
		return domain.CursorPage[Order]{}, translateOrderError(err)
	}
	return page, nil
}

// ListStoreOrders serves the staff listing with its filters.
func (s *orderService) ListStoreOrders(ctx context.Context, query ListStoreOrdersQuery) (domain.CursorPage[Order], error) {
	filter, err := s.buildListFilter(query)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}
	page, err := s.orders.ListByStore(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, translateOrderError(err)
	}
	return page, nil
}

// GetStoreOrder loads one order of the store with its lines, payment and shipment.
func (s *orderService) GetStoreOrder(ctx context.Context, storeID string, orderID string) (Order, error) {
	storeID = strings.TrimSpace(storeID)
	orderID = strings.TrimSpace(orderID)
	if storeID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: store and order ids are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, storeID, orderID)
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	return order, nil
}

type statusChange struct {
	field  string
	before string
	after  string
}

// UpdateStatuses applies a partial status update. Every requested value is validated before
// anything is written. The order row stays locked from the read of the current statuses until the
// writes commit, and each changed field is audited separately.
func (s *orderService) UpdateStatuses(ctx context.Context, cmd UpdateOrderStatusesCommand) (Order, error) {
	storeID := strings.TrimSpace(cmd.StoreID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if storeID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: store and order ids are required", ErrOrderInvalidInput)
	}
	if cmd.OrderStatus == nil && cmd.PaymentStatus == nil && cmd.ShipmentStatus == nil {
		return Order{}, fmt.Errorf("%w: at least one of status, payment_status or shipment_status is required", ErrOrderInvalidInput)
	}

	var (
		orderStatus    *domain.OrderStatus
		paymentStatus  *domain.PaymentStatus
		shipmentStatus *domain.ShipmentStatus
	)
	if cmd.OrderStatus != nil {
		value := domain.OrderStatus(normalizeStatus(*cmd.OrderStatus))
		if !value.Valid() {
			return Order{}, &FieldError{Field: StatusFieldOrder, Value: *cmd.OrderStatus, Err: ErrOrderInvalidInput}
		}
		orderStatus = &value
	}
	if cmd.PaymentStatus != nil {
		value := domain.PaymentStatus(normalizeStatus(*cmd.PaymentStatus))
		if !value.Valid() {
			return Order{}, &FieldError{Field: StatusFieldPayment, Value: *cmd.PaymentStatus, Err: ErrOrderInvalidInput}
		}
		paymentStatus = &value
	}
	if cmd.ShipmentStatus != nil {
		value := domain.ShipmentStatus(normalizeStatus(*cmd.ShipmentStatus))
		if !value.Valid() {
			return Order{}, &FieldError{Field: StatusFieldShipment, Value: *cmd.ShipmentStatus, Err: ErrOrderInvalidInput}
		}
		shipmentStatus = &value
	}

	var (
		order   Order
		changes []statusChange
	)
	now := s.now()
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changes = nil
		locked, err := s.orders.LockByID(txCtx, storeID, orderID)
		if err != nil {
			return translateOrderError(err)
		}
		if paymentStatus != nil && locked.Payment == nil {
			return ErrOrderPaymentNotFound
		}
		if shipmentStatus != nil && locked.Shipment == nil {
			return ErrOrderShipmentNotFound
		}
		order = locked

		if orderStatus != nil && *orderStatus != order.Status {
			changes = append(changes, statusChange{field: StatusFieldOrder, before: string(order.Status), after: string(*orderStatus)})
		}
		if paymentStatus != nil && *paymentStatus != order.Payment.Status {
			changes = append(changes, statusChange{field: StatusFieldPayment, before: string(order.Payment.Status), after: string(*paymentStatus)})
		}
		if shipmentStatus != nil && *shipmentStatus != order.Shipment.Status {
			changes = append(changes, statusChange{field: StatusFieldShipment, before: string(order.Shipment.Status), after: string(*shipmentStatus)})
		}

		for _, change := range changes {
			switch change.field {
			case StatusFieldOrder:
				err = s.orders.UpdateStatus(txCtx, order.ID, domain.OrderStatus(change.after), now)
			case StatusFieldPayment:
				err = s.payments.UpdateStatus(txCtx, order.Payment.ID, domain.PaymentStatus(change.after), now)
			case StatusFieldShipment:
				err = s.shipments.UpdateStatus(txCtx, order.Shipment.ID, domain.ShipmentStatus(change.after), now)
			}
			if err != nil {
				return translateOrderError(err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if len(changes) == 0 {
		return order, nil
	}

	s.afterStatusChange(ctx, order, changes, cmd.ActorUID)

	updated, err := s.orders.FindByID(ctx, storeID, orderID)
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	return updated, nil
}

func (s *orderService) afterStatusChange(ctx context.Context, order Order, changes []statusChange, actor string) {
	summary := make(map[string]string, len(changes))
	for _, change := range changes {
		summary[change.field] = change.after
		if s.metrics != nil {
			s.metrics.ObserveStatusChange(change.field)
		}
		if s.audit != nil {
			s.audit.Record(ctx, AuditLogRecord{
				Actor:     actor,
				ActorType: "staff",
				Action:    "order." + change.field + ".update",
				TargetRef: orderTargetRef(order.StoreID, order.ID),
				Diff: map[string]AuditLogDiff{
					change.field: {Before: change.before, After: change.after},
				},
			})
		}
	}

	if s.events != nil {
		status := string(order.Status)
		if next, ok := summary[StatusFieldOrder]; ok {
			status = next
		}
		event := OrderEvent{
			ID:         eventIDPrefix + s.newID(),
			Type:       OrderEventStatusChanged,
			OrderID:    order.ID,
			StoreID:    order.StoreID,
			CustomerID: order.CustomerID,
			Status:     status,
			Changes:    summary,
			OccurredAt: s.now(),
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "order.status.event_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId": order.ID,
		"storeId": order.StoreID,
		"actor":   actor,
		"changes": summary,
	})
}

func (s *orderService) buildListFilter(query ListStoreOrdersQuery) (repositories.OrderListFilter, error) {
	storeID := strings.TrimSpace(query.StoreID)
	if storeID == "" {
		return repositories.OrderListFilter{}, fmt.Errorf("%w: store id is required", ErrOrderInvalidInput)
	}
	filter := repositories.OrderListFilter{
		StoreID:          storeID,
		CustomerID:       strings.TrimSpace(query.CustomerID),
		SellerID:         strings.TrimSpace(query.SellerID),
		SellerUnassigned: query.SellerUnassigned,
		CreatedAfter:     query.CreatedAfter,
		CreatedBefore:    query.CreatedBefore,
		SortBy:           repositories.OrderSortCreatedAt,
		SortOrder:        domain.SortDesc,
		Pagination:       query.Pagination,
	}

	for _, raw := range query.Statuses {
		status := domain.OrderStatus(normalizeStatus(raw))
		if !status.Valid() {
			return repositories.OrderListFilter{}, &FieldError{Field: StatusFieldOrder, Value: raw, Err: ErrOrderInvalidInput}
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	if filter.CreatedAfter != nil && filter.CreatedBefore != nil && filter.CreatedAfter.After(*filter.CreatedBefore) {
		return repositories.OrderListFilter{}, &FieldError{Field: "created_after", Reason: "must not be after created_before", Err: ErrOrderInvalidInput}
	}

	search := plainText(s.sanitizer, query.Search)
	if utf8.RuneCountInString(search) > maxOrderSearchLength {
		return repositories.OrderListFilter{}, &FieldError{Field: "search", Reason: fmt.Sprintf("must be at most %d characters", maxOrderSearchLength), Err: ErrOrderInvalidInput}
	}
	filter.Search = search

	if field := strings.TrimSpace(query.OrderBy); field != "" {
		sortBy, ok := orderSortFields[strings.ToLower(field)]
		if !ok {
			return repositories.OrderListFilter{}, &FieldError{Field: "order_by", Value: field, Err: ErrOrderInvalidInput}
		}
		filter.SortBy = sortBy
		filter.SortOrder = domain.SortAsc
		if query.Descending {
			filter.SortOrder = domain.SortDesc
		}
	}
	return filter, nil
}

func normalizeStatus(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
