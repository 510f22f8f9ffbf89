package postgres

import (
	"context"
	"fmt"

	"github.com/tiendaplus/api/internal/platform/database"
)

// AutoMigrate creates or updates the relational schema backing the registry.
func AutoMigrate(ctx context.Context, provider *database.Provider) error {
	if provider == nil {
		return fmt.Errorf("postgres: database provider is required")
	}
	db, err := provider.DB(ctx)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("postgres: auto migrate: %w", err)
	}
	return nil
}
