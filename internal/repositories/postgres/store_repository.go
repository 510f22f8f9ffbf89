package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/platform/database"
	"github.com/tiendaplus/api/internal/repositories"
)

type storeRepository struct {
	db *database.Provider
}

var _ repositories.StoreRepository = (*storeRepository)(nil)

func (r *storeRepository) FindByID(ctx context.Context, storeID string) (domain.Store, error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.Store{}, database.WrapError("stores.find", err)
	}
	var rec storeRecord
	if err := db.Where("id = ?", storeID).Take(&rec).Error; err != nil {
		return domain.Store{}, database.WrapError("stores.find", err)
	}
	return rec.toDomain(), nil
}

type customerRepository struct {
	db *database.Provider
}

var _ repositories.CustomerRepository = (*customerRepository)(nil)

func (r *customerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	return r.findOne(ctx, "customers.find", "id = ?", customerID)
}

func (r *customerRepository) FindByUID(ctx context.Context, uid string) (domain.Customer, error) {
	return r.findOne(ctx, "customers.find_by_uid", "firebase_uid = ?", uid)
}

func (r *customerRepository) findOne(ctx context.Context, op string, query string, arg any) (domain.Customer, error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.Customer{}, database.WrapError(op, err)
	}
	var rec customerRecord
	if err := db.Where(query, arg).Take(&rec).Error; err != nil {
		return domain.Customer{}, database.WrapError(op, err)
	}
	return rec.toDomain(), nil
}

func (r *customerRepository) Insert(ctx context.Context, customer domain.Customer) error {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("customers.insert", err)
	}
	rec := customerFromDomain(customer)
	return database.WrapError("customers.insert", db.Create(&rec).Error)
}

func (r *customerRepository) AddLoyaltyPoints(ctx context.Context, customerID string, points decimal.Decimal, updatedAt time.Time) error {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("customers.add_loyalty_points", err)
	}
	res := db.Model(&customerRecord{}).
		Where("id = ?", customerID).
		Updates(map[string]any{
			"loyalty_points": gorm.Expr("loyalty_points + ?", points),
			"updated_at":     updatedAt,
		})
	if res.Error != nil {
		return database.WrapError("customers.add_loyalty_points", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.WrapError("customers.add_loyalty_points", gorm.ErrRecordNotFound)
	}
	return nil
}

type storeCustomerRepository struct {
	db *database.Provider
}

var _ repositories.StoreCustomerRepository = (*storeCustomerRepository)(nil)

// Ensure relies on the (store_id, customer_id) unique index so concurrent confirmations never duplicate the link.
func (r *storeCustomerRepository) Ensure(ctx context.Context, link domain.StoreCustomer) (domain.StoreCustomer, bool, error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.StoreCustomer{}, false, database.WrapError("store_customers.ensure", err)
	}
	rec := storeCustomerRecord{
		ID:         link.ID,
		StoreID:    link.StoreID,
		CustomerID: link.CustomerID,
		CreatedAt:  link.CreatedAt,
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_id"}, {Name: "customer_id"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return domain.StoreCustomer{}, false, database.WrapError("store_customers.ensure", res.Error)
	}
	if res.RowsAffected == 1 {
		return rec.toDomain(), true, nil
	}

	var existing storeCustomerRecord
	if err := db.Where("store_id = ? AND customer_id = ?", link.StoreID, link.CustomerID).Take(&existing).Error; err != nil {
		return domain.StoreCustomer{}, false, database.WrapError("store_customers.ensure", err)
	}
	return existing.toDomain(), false, nil
}
