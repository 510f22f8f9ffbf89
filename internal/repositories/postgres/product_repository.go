package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/tiendaplus/api/internal/domain"
	"github.com/tiendaplus/api/internal/platform/database"
	"github.com/tiendaplus/api/internal/repositories"
)

var errLockOutsideTx = errors.New("postgres: row locks require a transaction")

type productRepository struct {
	db *database.Provider
}

var _ repositories.ProductRepository = (*productRepository)(nil)

func (r *productRepository) FindActive(ctx context.Context, storeID string, ids []string) ([]domain.Product, error) {
	db, err := r.db.Conn(ctx)
	if err != nil {
		return nil, database.WrapError("products.find_active", err)
	}
	return findActiveProducts(db, "products.find_active", storeID, ids)
}

// LockActive takes row locks in ascending id order so two checkouts touching the same products cannot deadlock.
func (r *productRepository) LockActive(ctx context.Context, storeID string, ids []string) ([]domain.Product, error) {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return nil, database.WrapError("products.lock_active", errLockOutsideTx)
	}
	return findActiveProducts(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "products.lock_active", storeID, ids)
}

func findActiveProducts(db *gorm.DB, op string, storeID string, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []productRecord
	err := db.Where("store_id = ? AND active = ? AND id IN ?", storeID, true, ids).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, database.WrapError(op, err)
	}
	products := make([]domain.Product, 0, len(recs))
	for _, rec := range recs {
		products = append(products, rec.toDomain())
	}
	return products, nil
}

// UpdateStock writes every level with a single UPDATE ... SET stock = CASE id ... statement.
func (r *productRepository) UpdateStock(ctx context.Context, levels map[string]int, updatedAt time.Time) error {
	if len(levels) == 0 {
		return nil
	}
	db, err := r.db.Conn(ctx)
	if err != nil {
		return database.WrapError("products.update_stock", err)
	}

	ids := make([]string, 0, len(levels))
	for id := range levels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		expr strings.Builder
		args = make([]any, 0, len(ids)*2)
	)
	expr.WriteString("CASE id")
	for _, id := range ids {
		expr.WriteString(" WHEN ? THEN ?::integer")
		args = append(args, id, levels[id])
	}
	expr.WriteString(" END")

	res := db.Model(&productRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"stock":      gorm.Expr(expr.String(), args...),
			"updated_at": updatedAt,
		})
	if res.Error != nil {
		return database.WrapError("products.update_stock", res.Error)
	}
	if res.RowsAffected != int64(len(ids)) {
		return database.WrapError("products.update_stock", fmt.Errorf("%w: updated %d of %d products", gorm.ErrRecordNotFound, res.RowsAffected, len(ids)))
	}
	return nil
}
