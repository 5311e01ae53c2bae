package postgres

import (
	"context"
	"fmt"

	"costledger/pkg/logger"
)

// schemaStatements create the ledger tables. products and stock_movements belong to
// the inventory module; they are created here only when absent so the engine can run
// standalone.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id                  UUID PRIMARY KEY,
		stock_quantity      BIGINT NOT NULL DEFAULT 0,
		low_stock_threshold BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS stock_movements (
		id          UUID PRIMARY KEY,
		product_id  UUID NOT NULL REFERENCES products (id),
		type        TEXT NOT NULL CHECK (type IN ('IN', 'OUT', 'ADJUSTMENT', 'TRANSFER')),
		quantity    BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_product_created_idx
		ON stock_movements (product_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS cost_layers (
		id                 UUID PRIMARY KEY,
		seq                BIGSERIAL NOT NULL UNIQUE,
		product_id         UUID NOT NULL REFERENCES products (id),
		quantity           BIGINT NOT NULL CHECK (quantity > 0),
		unit_cost          NUMERIC(18, 2) NOT NULL CHECK (unit_cost >= 0),
		remaining_quantity BIGINT NOT NULL,
		acquisition_date   TIMESTAMPTZ NOT NULL,
		expiry_date        TIMESTAMPTZ,
		is_active          BOOLEAN NOT NULL DEFAULT TRUE,
		metadata           JSONB,
		version            BIGINT NOT NULL DEFAULT 1,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT cost_layers_remaining_range CHECK (remaining_quantity BETWEEN 0 AND quantity)
	)`,
	`CREATE INDEX IF NOT EXISTS cost_layers_product_order_idx
		ON cost_layers (product_id, acquisition_date, seq)`,
	`CREATE INDEX IF NOT EXISTS cost_layers_consumable_idx
		ON cost_layers (product_id) WHERE is_active AND remaining_quantity > 0`,

	`CREATE TABLE IF NOT EXISTS sys_audit (
		id                 UUID PRIMARY KEY,
		product_id         UUID NOT NULL,
		action             TEXT NOT NULL,
		actor_id           TEXT NOT NULL DEFAULT '',
		actor_source       TEXT NOT NULL DEFAULT '',
		request_id         TEXT NOT NULL DEFAULT '',
		changes            JSONB,
		changes_compressed BYTEA,
		compression_algo   TEXT NOT NULL DEFAULT 'none',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS sys_audit_product_idx ON sys_audit (product_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS sys_outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   UUID NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INT NOT NULL DEFAULT 0,
		last_error     TEXT,
		next_retry_at  TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		published_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS sys_outbox_pending_idx ON sys_outbox (created_at) WHERE status = 'pending'`,
}

// Migrate creates the schema in one transaction. It is idempotent.
func Migrate(ctx context.Context, txm *TxManager) error {
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q := txm.GetQuerier(ctx)
		for i, stmt := range schemaStatements {
			if _, err := q.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i, err)
			}
		}
		logger.Info(ctx, "schema is up to date", "statements", len(schemaStatements))
		return nil
	})
}
