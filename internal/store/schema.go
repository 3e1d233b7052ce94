package store

import (
	"context"
	"fmt"
)

// Schema statements are idempotent so every binary can run Migrate on start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id BIGSERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS search_terms (
		id BIGSERIAL PRIMARY KEY,
		term TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		url TEXT UNIQUE NOT NULL,
		price NUMERIC(10, 2),
		rating NUMERIC(2, 1),
		review_count INTEGER NOT NULL DEFAULT 0,
		date_scraped DATE NOT NULL DEFAULT CURRENT_DATE
	)`,
	`CREATE TABLE IF NOT EXISTS product_categories (
		product_id BIGINT NOT NULL REFERENCES products(id),
		category_id BIGINT NOT NULL REFERENCES categories(id),
		PRIMARY KEY (product_id, category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS product_search_terms (
		product_id BIGINT NOT NULL REFERENCES products(id),
		search_term_id BIGINT NOT NULL REFERENCES search_terms(id),
		PRIMARY KEY (product_id, search_term_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		rating INTEGER NOT NULL,
		title TEXT,
		date TEXT,
		reviewer TEXT,
		verified TEXT,
		text TEXT,
		helpful TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		target_stream TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_product ON reviews(product_id)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_event(status, next_retry_at)`,
}

// Migrate creates the schema if it does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
