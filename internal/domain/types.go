package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Store is a tenant of the platform owning its catalog and orders.
type Store struct {
	ID        string
	Slug      string
	Name      string
	Currency  string
	Active    bool
	CreatedAt time.Time
}

// Customer is the buyer identity linked to a Firebase account.
type Customer struct {
	ID            string
	UID           string
	Email         string
	DisplayName   string
	LoyaltyPoints decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StoreCustomer links a customer with every store they purchased from.
type StoreCustomer struct {
	ID         string
	StoreID    string
	CustomerID string
	CreatedAt  time.Time
}

// Product is a store-scoped catalog entry.
type Product struct {
	ID        string
	StoreID   string
	SKU       string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	UpdatedAt time.Time
}

// Cart is the immutable snapshot of a successful checkout attempt.
type Cart struct {
	ID         string
	CustomerID string
	StoreID    string
	Total      decimal.Decimal
	Lines      []CartLine
	CreatedAt  time.Time
}

// CartLine stores the historical unit price paid for a product.
type CartLine struct {
	ID        string
	CartID    string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderStatus enumerates the lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusProcessing marks an order that has not been settled yet.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusProcessed marks a paid order ready for fulfilment.
	OrderStatusProcessed OrderStatus = "PROCESSED"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered marks an order received by the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled marks an order cancelled by staff.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus enumerates payment record states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// ShipmentStatus enumerates shipment record states.
type ShipmentStatus string

const (
	ShipmentStatusInPreparation ShipmentStatus = "IN_PREPARATION"
	ShipmentStatusShipped       ShipmentStatus = "SHIPPED"
	ShipmentStatusInTransit     ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered     ShipmentStatus = "DELIVERED"
	ShipmentStatusReturned      ShipmentStatus = "RETURNED"
)

var (
	orderStatuses = map[OrderStatus]struct{}{
		OrderStatusProcessing: {},
		OrderStatusProcessed:  {},
		OrderStatusShipped:    {},
		OrderStatusDelivered:  {},
		OrderStatusCancelled:  {},
	}
	paymentStatuses = map[PaymentStatus]struct{}{
		PaymentStatusPending:   {},
		PaymentStatusCompleted: {},
		PaymentStatusFailed:    {},
		PaymentStatusRefunded:  {},
	}
	shipmentStatuses = map[ShipmentStatus]struct{}{
		ShipmentStatusInPreparation: {},
		ShipmentStatusShipped:       {},
		ShipmentStatusInTransit:     {},
		ShipmentStatusDelivered:     {},
		ShipmentStatusReturned:      {},
	}
)

// Valid reports whether the status is part of the order status domain.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatuses[s]
	return ok
}

// Valid reports whether the status is part of the payment status domain.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentStatuses[s]
	return ok
}

// Valid reports whether the status is part of the shipment status domain.
func (s ShipmentStatus) Valid() bool {
	_, ok := shipmentStatuses[s]
	return ok
}

// Order is the committed purchase together with its owned records.
type Order struct {
	ID         string
	StoreID    string
	CustomerID string
	CartID     string
	SellerID   *string
	Status     OrderStatus
	Currency   string
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Total      decimal.Decimal
	Lines      []OrderLine
	Payment    *Payment
	Shipment   *Shipment
	Customer   *Customer
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderLine mirrors a cart line at commit time.
type OrderLine struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// LineTotal returns quantity multiplied by the historical unit price.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Payment records the processor capture for an order.
type Payment struct {
	ID        string
	OrderID   string
	StoreID   string
	IntentID  string
	SessionID string
	Amount    decimal.Decimal
	Currency  string
	Status    PaymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shipment is the single delivery record of an order.
type Shipment struct {
	ID        string
	OrderID   string
	StoreID   string
	Address   string
	Status    ShipmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}
