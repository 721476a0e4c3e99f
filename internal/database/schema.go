package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied by the migrate command. Statements are idempotent so the
// command can run on every deploy. River's own tables are managed separately
// through rivermigrate.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id BIGSERIAL PRIMARY KEY,
		license_key TEXT NOT NULL UNIQUE,
		product_name TEXT NOT NULL,
		customer_name TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		allowed_domains TEXT NOT NULL DEFAULT '',
		max_activations INT NOT NULL DEFAULT 1 CHECK (max_activations >= 1),
		current_activations INT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		expires_at TIMESTAMPTZ,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS activations (
		id BIGSERIAL PRIMARY KEY,
		license_id BIGINT NOT NULL REFERENCES licenses(id) ON DELETE CASCADE,
		domain TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (license_id, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS admin_users (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'viewer',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		license_key TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT 'info',
		message TEXT NOT NULL,
		context JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_licenses_status ON licenses(status)`,
	`CREATE INDEX IF NOT EXISTS idx_licenses_expires_at ON licenses(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_activations_license ON activations(license_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at)`,
}

// Migrate applies the application schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
