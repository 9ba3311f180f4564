// Package store persists canonical products, the shared image token cache
// and finished run reports in Postgres.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL applied at startup. Statements are idempotent so
// restarts against an existing database are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id                 TEXT PRIMARY KEY,
		secondary_id       TEXT NOT NULL DEFAULT '',
		record_id          TEXT NOT NULL,
		name               TEXT NOT NULL,
		category_primary   TEXT NOT NULL,
		category_secondary TEXT NOT NULL DEFAULT '',
		price_normal       DOUBLE PRECISION NOT NULL,
		price_discount     DOUBLE PRECISION NOT NULL DEFAULT 0,
		discount_rate      INTEGER,
		origin_country     TEXT NOT NULL DEFAULT '',
		origin_province    TEXT NOT NULL DEFAULT '',
		origin_city        TEXT NOT NULL DEFAULT '',
		platform           TEXT NOT NULL DEFAULT '',
		specification      TEXT NOT NULL DEFAULT '',
		flavor             TEXT NOT NULL DEFAULT '',
		mix_flag           TEXT NOT NULL DEFAULT '',
		manufacturer       TEXT NOT NULL DEFAULT '',
		notes              TEXT NOT NULL DEFAULT '',
		images             JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_category ON products (category_primary, category_secondary)`,
	`CREATE INDEX IF NOT EXISTS idx_products_record_id ON products (record_id)`,

	`CREATE TABLE IF NOT EXISTS image_cache (
		token        TEXT PRIMARY KEY,
		public_url   TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sync_runs (
		run_id            TEXT PRIMARY KEY,
		mode              TEXT NOT NULL,
		phase             TEXT NOT NULL,
		started_at        TIMESTAMPTZ NOT NULL,
		finished_at       TIMESTAMPTZ,
		total_fetched     INTEGER NOT NULL DEFAULT 0,
		created_count     INTEGER NOT NULL DEFAULT 0,
		updated_count     INTEGER NOT NULL DEFAULT 0,
		skipped_count     INTEGER NOT NULL DEFAULT 0,
		images_downloaded INTEGER NOT NULL DEFAULT 0,
		images_cache_hit  INTEGER NOT NULL DEFAULT 0,
		images_failed     INTEGER NOT NULL DEFAULT 0,
		identity_renames  INTEGER NOT NULL DEFAULT 0,
		errors            JSONB NOT NULL DEFAULT '[]'::jsonb,
		error_message     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs (started_at DESC)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}
