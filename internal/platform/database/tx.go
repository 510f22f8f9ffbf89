package database

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type txKey struct{}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Conn returns the transaction bound to ctx or a fresh session on the provider's pool.
func (p *Provider) Conn(ctx context.Context) (*gorm.DB, error) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx.WithContext(ctx), nil
	}
	return p.DB(ctx)
}

// RunInTx executes fn inside a single database transaction. Nested calls join the outer one.
// The transaction commits when fn returns nil and rolls back otherwise.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("database: transaction function is nil")
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}
