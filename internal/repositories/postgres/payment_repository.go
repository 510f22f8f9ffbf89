package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/platform/database"
	"github.com/tiendaplus/api/internal/repositories"
)

type paymentRepository struct {
	db *database.Provider
}

var _ repositories.PaymentRepository = (*paymentRepository)(nil)

// Insert fails with a conflict when the intent id was already recorded.
func (r *paymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("payments.insert", err)
	}
	rec := paymentFromDomain(payment)
	return database.WrapError("payments.insert", db.Create(&rec).Error)
}

func (r *paymentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find_by_intent", "intent_id = ?", intentID)
}

func (r *paymentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find_by_order", "order_id = ?", orderID)
}

func (r *paymentRepository) findOne(ctx context.Context, op, query string, arg any) (domain.Payment, error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.Payment{}, database.WrapError(op, err)
	}
	var rec paymentRecord
	if err := db.Where(query, arg).Take(&rec).Error; err != nil {
		return domain.Payment{}, database.WrapError(op, err)
	}
	return rec.toDomain(), nil
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus, updatedAt time.Time) error {
	return updateStatus(ctx, r.db, "payments.update_status", &paymentRecord{}, paymentID, string(status), updatedAt)
}

type shipmentRepository struct {
	db *database.Provider
}

var _ repositories.ShipmentRepository = (*shipmentRepository)(nil)

func (r *shipmentRepository) Insert(ctx context.Context, shipment domain.Shipment) error {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("shipments.insert", err)
	}
	rec := shipmentFromDomain(shipment)
	return database.WrapError("shipments.insert", db.Create(&rec).Error)
}

func (r *shipmentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Shipment, error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.Shipment{}, database.WrapError("shipments.find_by_order", err)
	}
	var rec shipmentRecord
	if err := db.Where("order_id = ?", orderID).Take(&rec).Error; err != nil {
		return domain.Shipment{}, database.WrapError("shipments.find_by_order", err)
	}
	return rec.toDomain(), nil
}

func (r *shipmentRepository) UpdateStatus(ctx context.Context, shipmentID string, status domain.ShipmentStatus, updatedAt time.Time) error {
	return updateStatus(ctx, r.db, "shipments.update_status", &shipmentRecord{}, shipmentID, string(status), updatedAt)
}

func updateStatus(ctx context.Context, provider *database.Provider, op string, model any, id string, status string, updatedAt time.Time) error {
	db, err := provider.Conn(ctx)
	if err != nil {
		return database.WrapError(op, err)
	}
	res := db.Model(model).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": updatedAt})
	if res.Error != nil {
		return database.WrapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return database.WrapError(op, gorm.ErrRecordNotFound)
	}
	return nil
}
