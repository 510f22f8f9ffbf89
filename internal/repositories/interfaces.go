package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tiendaplus/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Stores() StoreRepository
	Customers() CustomerRepository
	StoreCustomers() StoreCustomerRepository
	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Shipments() ShipmentRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the ctx handed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StoreRepository reads tenant records.
type StoreRepository interface {
	FindByID(ctx context.Context, storeID string) (domain.Store, error)
}

// CustomerRepository persists buyer identities and their loyalty balance.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByUID(ctx context.Context, uid string) (domain.Customer, error)
	Insert(ctx context.Context, customer domain.Customer) error
	// AddLoyaltyPoints increments the balance atomically in the database.
	AddLoyaltyPoints(ctx context.Context, customerID string, points decimal.Decimal, updatedAt time.Time) error
}

// StoreCustomerRepository maintains the unique store to customer association.
type StoreCustomerRepository interface {
	// Ensure returns the existing association or inserts link. created reports whether a row was written.
	Ensure(ctx context.Context, link domain.StoreCustomer) (domain.StoreCustomer, bool, error)
}

// ProductRepository reads catalog entries and applies stock movements.
type ProductRepository interface {
	// FindActive returns the active products of the store among ids, in ascending id order.
	FindActive(ctx context.Context, storeID string, ids []string) ([]domain.Product, error)
	// LockActive is FindActive under SELECT ... FOR UPDATE. Must run inside a UnitOfWork.
	LockActive(ctx context.Context, storeID string, ids []string) ([]domain.Product, error)
	// UpdateStock writes the new stock levels keyed by product id in one statement.
	UpdateStock(ctx context.Context, levels map[string]int, updatedAt time.Time) error
}

// CartRepository stores cart snapshots together with their lines.
type CartRepository interface {
	Insert(ctx context.Context, cart domain.Cart) error
}

// OrderRepository persists orders and serves the customer and staff listings.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// FindByID loads the order with its lines, payment, shipment and customer, scoped to the store.
	FindByID(ctx context.Context, storeID string, orderID string) (domain.Order, error)
	// LockByID is FindByID holding a row lock on the order until the surrounding transaction ends.
	// It must run inside UnitOfWork.RunInTx.
	LockByID(ctx context.Context, storeID string, orderID string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	ListByStore(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error
}

// PaymentRepository persists processor captures. IntentID is unique.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByIntentID(ctx context.Context, intentID string) (domain.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error)
	UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, updatedAt time.Time) error
}

// ShipmentRepository persists the delivery record of an order.
type ShipmentRepository interface {
	Insert(ctx context.Context, shipment domain.Shipment) error
	FindByOrderID(ctx context.Context, orderID string) (domain.Shipment, error)
	UpdateStatus(ctx context.Context, shipmentID string, status domain.ShipmentStatus, updatedAt time.Time) error
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderSortField enumerates the columns staff listings may order by.
type OrderSortField string

const (
	OrderSortCreatedAt OrderSortField = "created_at"
	OrderSortTotal     OrderSortField = "total"
	OrderSortStatus    OrderSortField = "status"
)

// OrderListFilter narrows the staff order listing. Zero values disable a filter.
type OrderListFilter struct {
	StoreID          string
	Statuses         []domain.OrderStatus
	CustomerID       string
	SellerID         string
	SellerUnassigned *bool
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
	Search           string
	SortBy           OrderSortField
	SortOrder        domain.SortOrder
	Pagination       domain.Pagination
}

// AuditLogFilter narrows audit queries.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination domain.Pagination
}
