package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"renoflow/db"
)

// Prepare applies the embedded migrations to the DSN and returns a pool
// connected to the migrated database.
func Prepare(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if err := db.Migrate(dsn); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect pool: %w", err)
	}
	return pool, nil
}

// Reset truncates the domain tables so a shared database can be reused
// across runs.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE outbox, bids, inspection_interests, requests, users CASCADE`)
	if err != nil {
		return fmt.Errorf("reset tables: %w", err)
	}
	return nil
}
