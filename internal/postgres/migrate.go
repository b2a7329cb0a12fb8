package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statements are idempotent so Migrate can run on every boot. The stock CHECK
// is the last line of defence against oversell: even a buggy write path cannot
// drive stock negative.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS product_variants (
		id               TEXT PRIMARY KEY,
		product_name     TEXT NOT NULL,
		variant_name     TEXT NOT NULL DEFAULT '',
		price_cents      BIGINT NOT NULL,
		sale_price_cents BIGINT,
		sale_starts_at   TIMESTAMPTZ,
		sale_ends_at     TIMESTAMPTZ,
		stock            INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		archived         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id              TEXT PRIMARY KEY,
		number          TEXT NOT NULL UNIQUE,
		user_id         TEXT,
		guest_name      TEXT NOT NULL DEFAULT '',
		guest_email     TEXT NOT NULL DEFAULT '',
		guest_phone     TEXT NOT NULL DEFAULT '',
		ship_address    TEXT NOT NULL DEFAULT '',
		note            TEXT NOT NULL DEFAULT '',
		payment_method  TEXT NOT NULL,
		payment_status  TEXT NOT NULL,
		status          TEXT NOT NULL,
		subtotal_cents  BIGINT NOT NULL,
		shipping_cents  BIGINT NOT NULL,
		discount_cents  BIGINT NOT NULL,
		total_cents     BIGINT NOT NULL,
		carrier         TEXT NOT NULL DEFAULT '',
		tracking_code   TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_user_id_idx ON orders (user_id)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id                   TEXT PRIMARY KEY,
		order_id             TEXT NOT NULL REFERENCES orders (id),
		variant_id           TEXT NOT NULL,
		name                 TEXT NOT NULL,
		quantity             INT NOT NULL CHECK (quantity > 0),
		price_cents          BIGINT NOT NULL,
		original_price_cents BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_id_idx ON order_items (order_id)`,
	// Owned by the auth collaborator; created here only so local single-node
	// setups work without it.
	`CREATE TABLE IF NOT EXISTS users (
		id    TEXT PRIMARY KEY,
		email TEXT NOT NULL
	)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
