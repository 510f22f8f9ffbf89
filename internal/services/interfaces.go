package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/payments"
	"github.com/tiendaplus/api/internal/repositories"
)

// Domain aliases keep handler signatures short.
type (
	Order              = domain.Order
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
	AuditLogFilter     = repositories.AuditLogFilter
)

// CheckoutService quotes carts into processor sessions and materializes confirmed payments into orders.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
	ConfirmCheckout(ctx context.Context, cmd ConfirmCheckoutCommand) (ConfirmCheckoutResult, error)
	HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error
}

// OrderService serves customer and staff order views and the staff status workflow.
type OrderService interface {
	ListCustomerOrders(ctx context.Context, query ListCustomerOrdersQuery) (domain.CursorPage[Order], error)
	ListStoreOrders(ctx context.Context, query ListStoreOrdersQuery) (domain.CursorPage[Order], error)
	GetStoreOrder(ctx context.Context, storeID string, orderID string) (Order, error)
	UpdateStatuses(ctx context.Context, cmd UpdateOrderStatusesCommand) (Order, error)
}

// SystemService exposes operational status for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// AuditLogService records immutable audit entries. Record never fails the caller.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// CheckoutMetrics receives confirmation outcomes. *metrics.Metrics satisfies it.
type CheckoutMetrics interface {
	ObserveConfirmation(outcome string)
	ObserveDiscrepancy()
}

// OrderMetrics receives staff status mutations.
type OrderMetrics interface {
	ObserveStatusChange(field string)
}

// Order event types.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
)

// OrderEvent is the payload published after an order is committed or mutated.
type OrderEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OrderID    string            `json:"orderId"`
	StoreID    string            `json:"storeId"`
	CustomerID string            `json:"customerId,omitempty"`
	Status     string            `json:"status,omitempty"`
	Total      string            `json:"total,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Changes    map[string]string `json:"changes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// CheckoutItemInput is one requested product line.
type CheckoutItemInput struct {
	ProductID string
	Quantity  int
}

// CreateCheckoutSessionCommand carries the quote request of an authenticated customer.
type CreateCheckoutSessionCommand struct {
	CustomerUID    string
	CustomerEmail  string
	CustomerName   string
	StoreID        string
	Address        string
	Items          []CheckoutItemInput
	SuccessURL     string
	CancelURL      string
	Locale         string
	IdempotencyKey string
}

// CheckoutSessionResult is returned to the client so it can redirect to the hosted page.
type CheckoutSessionResult struct {
	SessionID string
	URL       string
	Provider  string
	Currency  string
	Subtotal  decimal.Decimal
	Shipping  decimal.Decimal
	Total     decimal.Decimal
	ExpiresAt time.Time
}

// Confirmation sources.
const (
	ConfirmSourceAPI     = "api"
	ConfirmSourceWebhook = "webhook"
)

// ConfirmCheckoutCommand identifies the processor session to materialize. ActorUID is empty for
// webhook deliveries, which skip the ownership check.
type ConfirmCheckoutCommand struct {
	SessionID string
	ActorUID  string
	Source    string
}

// ConfirmCheckoutResult carries the committed order. Replayed reports that the payment had
// already been materialized by an earlier confirmation.
type ConfirmCheckoutResult struct {
	Order    Order
	Replayed bool
}

// ListCustomerOrdersQuery pages the caller's own orders, newest first.
type ListCustomerOrdersQuery struct {
	CustomerUID string
	Pagination  domain.Pagination
}

// ListStoreOrdersQuery narrows the staff listing of a store.
type ListStoreOrdersQuery struct {
	StoreID          string
	Statuses         []string
	CustomerID       string
	SellerID         string
	SellerUnassigned *bool
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
	Search           string
	OrderBy          string
	Descending       bool
	Pagination       domain.Pagination
}

// UpdateOrderStatusesCommand is a partial update; nil fields are left untouched.
type UpdateOrderStatusesCommand struct {
	StoreID        string
	OrderID        string
	OrderStatus    *string
	PaymentStatus  *string
	ShipmentStatus *string
	ActorUID       string
}

// AuditLogRecord is the input accepted by AuditLogService.Record.
type AuditLogRecord struct {
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Severity  string
	RequestID string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
	Diff      map[string]AuditLogDiff
}

// AuditLogDiff captures a before/after pair for a single field.
type AuditLogDiff struct {
	Before any
	After  any
}
