package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/000001_init.up.sql
var initMigrationUp string

//go:embed migrations/000001_init.down.sql
var initMigrationDown string

// MigrateUp applies the schema migrations.
func MigrateUp(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, initMigrationUp); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrateDown reverts the schema migrations.
func MigrateDown(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, initMigrationDown); err != nil {
		return fmt.Errorf("revert migrations: %w", err)
	}
	return nil
}
