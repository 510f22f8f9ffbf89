package postgres

import (
	"context"
	"errors"
	"io"

	"github.com/tiendaplus/api/internal/platform/database"
	"github.com/tiendaplus/api/internal/repositories"
)

// RegistryOption customises the registry with repositories backed by other stores.
type RegistryOption func(*Registry)

// WithAuditLogs injects the audit trail repository.
func WithAuditLogs(repo repositories.AuditLogRepository) RegistryOption {
	return func(r *Registry) {
		r.auditLogs = repo
	}
}

// WithHealth injects the readiness repository.
func WithHealth(repo repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = repo
	}
}

// WithCloser registers an extra resource released by Close, after the database.
func WithCloser(closer io.Closer) RegistryOption {
	return func(r *Registry) {
		if closer != nil {
			r.closers = append(r.closers, closer)
		}
	}
}

// Registry implements repositories.Registry on top of PostgreSQL.
type Registry struct {
	db *database.Provider

	stores         *storeRepository
	customers      *customerRepository
	storeCustomers *storeCustomerRepository
	products       *productRepository
	carts          *cartRepository
	orders         *orderRepository
	payments       *paymentRepository
	shipments      *shipmentRepository

	auditLogs repositories.AuditLogRepository
	health    repositories.HealthRepository
	closers   []io.Closer
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every relational repository to the shared provider.
func NewRegistry(provider *database.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("postgres: database provider is required")
	}
	reg := &Registry{
		db:             provider,
		stores:         &storeRepository{db: provider},
		customers:      &customerRepository{db: provider},
		storeCustomers: &storeCustomerRepository{db: provider},
		products:       &productRepository{db: provider},
		carts:          &cartRepository{db: provider},
		orders:         &orderRepository{db: provider},
		payments:       &paymentRepository{db: provider},
		shipments:      &shipmentRepository{db: provider},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

func (r *Registry) Stores() repositories.StoreRepository                 { return r.stores }
func (r *Registry) Customers() repositories.CustomerRepository           { return r.customers }
func (r *Registry) StoreCustomers() repositories.StoreCustomerRepository { return r.storeCustomers }
func (r *Registry) Products() repositories.ProductRepository             { return r.products }
func (r *Registry) Carts() repositories.CartRepository                   { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository                 { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository             { return r.payments }
func (r *Registry) Shipments() repositories.ShipmentRepository           { return r.shipments }
func (r *Registry) AuditLogs() repositories.AuditLogRepository           { return r.auditLogs }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }

// RunInTx executes fn in a database transaction. Errors returned by fn are propagated unchanged.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

// Close releases the database pool and any registered closers.
func (r *Registry) Close(context.Context) error {
	errs := []error{r.db.Close()}
	for _, closer := range r.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
