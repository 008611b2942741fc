package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnIdleTime = 15 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		sku         TEXT UNIQUE,
		name        TEXT NOT NULL DEFAULT '',
		stock       INTEGER NOT NULL DEFAULT 0,
		stock_version BIGINT NOT NULL DEFAULT 0,
		price       NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE products ADD COLUMN IF NOT EXISTS stock_version BIGINT NOT NULL DEFAULT 0`,
	// order bersarang per akun: PK (user_id, id)
	`CREATE TABLE IF NOT EXISTS orders (
		user_id         TEXT NOT NULL,
		id              TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		payment_method  TEXT NOT NULL DEFAULT '',
		billing         JSONB NOT NULL DEFAULT '{}',
		subtotal        NUMERIC(12,2) NOT NULL DEFAULT 0,
		shipping        NUMERIC(12,2) NOT NULL DEFAULT 0,
		total           NUMERIC(12,2) NOT NULL DEFAULT 0,
		version         BIGINT NOT NULL DEFAULT 1,
		created_at      TIMESTAMPTZ DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at DESC NULLS LAST)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		user_id     TEXT NOT NULL,
		order_id    TEXT NOT NULL,
		position    INTEGER NOT NULL,
		product_id  TEXT NOT NULL,
		quantity    INTEGER NOT NULL CHECK (quantity > 0),
		price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		PRIMARY KEY (user_id, order_id, position),
		FOREIGN KEY (user_id, order_id) REFERENCES orders (user_id, id) ON DELETE CASCADE
	)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
