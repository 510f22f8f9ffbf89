package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/platform/database"
	"github.com/tiendaplus/api/internal/platform/pagination"
	"github.com/tiendaplus/api/internal/repositories"
)

const maxOrderPageSize = pagination.DefaultMaxPageSize

var orderSortColumns = map[repositories.OrderSortField]string{
	repositories.OrderSortCreatedAt: "orders.created_at",
	repositories.OrderSortTotal:     "orders.total",
	repositories.OrderSortStatus:    "orders.status",
}

type cartRepository struct {
	db *database.Provider
}

var _ repositories.CartRepository = (*cartRepository)(nil)

func (r *cartRepository) Insert(ctx context.Context, cart domain.Cart) error {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("carts.insert", err)
	}
	rec := cartFromDomain(cart)
	return database.WrapError("carts.insert", db.Create(&rec).Error)
}

type orderRepository struct {
	db *database.Provider
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("orders.insert", err)
	}
	rec := orderFromDomain(order)
	return database.WrapError("orders.insert", db.Omit("Payment", "Shipment", "Customer").Create(&rec).Error)
}

func (r *orderRepository) FindByID(ctx context.Context, storeID string, orderID string) (domain.Order, error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.Order{}, database.WrapError("orders.find", err)
	}
	return findOrder(db, "orders.find", storeID, orderID)
}

func (r *orderRepository) LockByID(ctx context.Context, storeID string, orderID string) (domain.Order, error) {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return domain.Order{}, database.WrapError("orders.lock", errLockOutsideTx)
	}
	return findOrder(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "orders.lock", storeID, orderID)
}

func findOrder(db *gorm.DB, op string, storeID string, orderID string) (domain.Order, error) {
	query := withOrderDetails(db).Where("orders.id = ?", orderID)
	if strings.TrimSpace(storeID) != "" {
		query = query.Where("orders.store_id = ?", storeID)
	}
	var rec orderRecord
	if err := query.Take(&rec).Error; err != nil {
		return domain.Order{}, database.WrapError(op, err)
	}
	return rec.toDomain(), nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, database.WrapError("orders.list_by_customer", err)
	}
	query := withOrderDetails(db).
		Where("orders.customer_id = ?", customerID).
		Order("orders.created_at DESC").
		Order("orders.id DESC")
	return pageOrders(query, "orders.list_by_customer", pager)
}

func (r *orderRepository) ListByStore(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, database.WrapError("orders.list_by_store", err)
	}

	query := withOrderDetails(db).Where("orders.store_id = ?", filter.StoreID)
	switch len(filter.Statuses) {
	case 0:
	case 1:
		query = query.Where("orders.status = ?", string(filter.Statuses[0]))
	default:
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where("orders.status IN ?", statuses)
	}
	if filter.CustomerID != "" {
		query = query.Where("orders.customer_id = ?", filter.CustomerID)
	}
	if filter.SellerID != "" {
		query = query.Where("orders.seller_id = ?", filter.SellerID)
	}
	if filter.SellerUnassigned != nil {
		if *filter.SellerUnassigned {
			query = query.Where("orders.seller_id IS NULL")
		} else {
			query = query.Where("orders.seller_id IS NOT NULL")
		}
	}
	if filter.CreatedAfter != nil {
		query = query.Where("orders.created_at >= ?", filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		query = query.Where("orders.created_at <= ?", filter.CreatedBefore.UTC())
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		query = query.
			Joins("LEFT JOIN customers AS search_customers ON search_customers.id = orders.customer_id").
			Where("orders.id ILIKE ? OR search_customers.email ILIKE ? OR search_customers.display_name ILIKE ?", pattern, pattern, pattern)
	}

	column, ok := orderSortColumns[filter.SortBy]
	if !ok {
		column = orderSortColumns[repositories.OrderSortCreatedAt]
	}
	direction := "DESC"
	if filter.SortOrder == domain.SortAsc {
		direction = "ASC"
	}
	query = query.Order(fmt.Sprintf("%s %s", column, direction)).Order("orders.id " + direction)

	return pageOrders(query, "orders.list_by_store", filter.Pagination)
}

func (r *orderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("orders.update_status", err)
	}
	res := db.Model(&orderRecord{}).
		Where("id = ?", orderID).
		Updates(map[string]any{"status": string(status), "updated_at": updatedAt})
	if res.Error != nil {
		return database.WrapError("orders.update_status", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.WrapError("orders.update_status", gorm.ErrRecordNotFound)
	}
	return nil
}

func withOrderDetails(db *gorm.DB) *gorm.DB {
	return db.Model(&orderRecord{}).
		Preload("Lines", func(tx *gorm.DB) *gorm.DB { return tx.Order("order_lines.id ASC") }).
		Preload("Payment").
		Preload("Shipment").
		Preload("Customer")
}

func pageOrders(query *gorm.DB, op string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	if size > maxOrderPageSize {
		size = maxOrderPageSize
	}

	var recs []orderRecord
	if err := query.Offset(cursor.Offset).Limit(size).Find(&recs).Error; err != nil {
		return domain.CursorPage[domain.Order]{}, database.WrapError(op, err)
	}

	page := domain.CursorPage[domain.Order]{
		Items:         make([]domain.Order, 0, len(recs)),
		NextPageToken: pagination.NextToken(cursor.Offset, size, len(recs)),
	}
	for _, rec := range recs {
		page.Items = append(page.Items, rec.toDomain())
	}
	return page, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
