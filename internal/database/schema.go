package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracked_products (
	site            TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	url             TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	image           TEXT,
	last_checked_at TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (site, product_id)
);

CREATE TABLE IF NOT EXISTS price_snapshots (
	id                UUID PRIMARY KEY,
	site              TEXT NOT NULL,
	product_id        TEXT NOT NULL,
	name              TEXT,
	image             TEXT,
	cash_price        NUMERIC(12, 2),
	installment_total NUMERIC(12, 2),
	installment_count INTEGER,
	installment_value NUMERIC(12, 2),
	original_price    NUMERIC(12, 2),
	scraped_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (site, product_id, scraped_at),
	FOREIGN KEY (site, product_id) REFERENCES tracked_products (site, product_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_price_snapshots_product ON price_snapshots (site, product_id, scraped_at DESC);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`

// EnsureSchema creates the tables used by the snapshot store and the outbox.
// It is safe to run on every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
