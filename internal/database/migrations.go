package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Timestamps are TEXT (RFC 3339) rather than DATETIME so the driver hands
// them back as the strings that were written, which keeps snapshots stable.

// GetMigrations returns all available migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_auth_tokens_table",
			SQL: `
				CREATE TABLE IF NOT EXISTS auth_tokens (
					token_id TEXT PRIMARY KEY,
					client_name TEXT NOT NULL,
					hashed_token TEXT NOT NULL UNIQUE,
					created_at TEXT NOT NULL,
					expires_at TEXT,
					last_used_at TEXT,
					is_active INTEGER NOT NULL DEFAULT 1,
					metadata TEXT NOT NULL DEFAULT '{}'
				);

				CREATE INDEX IF NOT EXISTS idx_auth_tokens_client_name ON auth_tokens (client_name);
				CREATE INDEX IF NOT EXISTS idx_auth_tokens_active ON auth_tokens (is_active);
			`,
		},
		{
			Version: 2,
			Name:    "create_reference_tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS currencies (
					id TEXT PRIMARY KEY NOT NULL,
					name TEXT NOT NULL DEFAULT '',
					symbol TEXT NOT NULL DEFAULT '',
					rate REAL NOT NULL DEFAULT 1,
					updated_at TEXT
				);

				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY NOT NULL,
					email TEXT UNIQUE,
					name TEXT NOT NULL DEFAULT '',
					password_hash TEXT,
					role TEXT NOT NULL DEFAULT 'user',
					created_at TEXT
				);

				CREATE TABLE IF NOT EXISTS system_settings (
					id TEXT PRIMARY KEY NOT NULL,
					value TEXT,
					updated_at TEXT
				);

				CREATE TABLE IF NOT EXISTS remote_configs (
					id TEXT PRIMARY KEY NOT NULL,
					key TEXT NOT NULL DEFAULT '',
					value TEXT,
					platform TEXT NOT NULL DEFAULT 'all',
					updated_at TEXT
				);
			`,
		},
		{
			Version: 3,
			Name:    "create_plans_and_licenses",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id TEXT PRIMARY KEY NOT NULL,
					name TEXT NOT NULL DEFAULT '',
					description TEXT,
					duration_days INTEGER NOT NULL DEFAULT 30,
					max_devices INTEGER NOT NULL DEFAULT 1,
					currency_id TEXT REFERENCES currencies (id),
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at TEXT
				);

				CREATE TABLE IF NOT EXISTS plan_prices (
					id TEXT PRIMARY KEY NOT NULL,
					plan_id TEXT NOT NULL REFERENCES plans (id),
					currency_id TEXT REFERENCES currencies (id),
					amount REAL NOT NULL DEFAULT 0,
					interval TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_plan_prices_plan_id ON plan_prices (plan_id);

				CREATE TABLE IF NOT EXISTS licenses (
					id TEXT PRIMARY KEY NOT NULL,
					key TEXT NOT NULL UNIQUE,
					plan_id TEXT REFERENCES plans (id),
					user_id TEXT REFERENCES users (id),
					status TEXT NOT NULL DEFAULT 'inactive',
					device_id TEXT,
					max_devices INTEGER NOT NULL DEFAULT 1,
					activated_at TEXT,
					expires_at TEXT,
					paused_at TEXT,
					remaining_seconds INTEGER,
					revoked_at TEXT,
					created_at TEXT,
					updated_at TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_licenses_status_expires ON licenses (status, expires_at);
			`,
		},
		{
			Version: 4,
			Name:    "create_billing_and_activity_tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY NOT NULL,
					user_id TEXT REFERENCES users (id),
					license_id TEXT REFERENCES licenses (id),
					currency_id TEXT REFERENCES currencies (id),
					amount REAL NOT NULL DEFAULT 0,
					type TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'completed',
					reference TEXT,
					created_at TEXT
				);

				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY NOT NULL,
					user_id TEXT REFERENCES users (id),
					title TEXT NOT NULL DEFAULT '',
					message TEXT,
					is_read INTEGER NOT NULL DEFAULT 0,
					created_at TEXT
				);

				CREATE TABLE IF NOT EXISTS audit_logs (
					id TEXT PRIMARY KEY NOT NULL,
					user_id TEXT REFERENCES users (id),
					actor TEXT,
					action TEXT NOT NULL,
					details TEXT,
					ip_address TEXT,
					created_at TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs (created_at);
			`,
		},
		{
			Version: 5,
			Name:    "create_support_tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS support_tickets (
					id TEXT PRIMARY KEY NOT NULL,
					user_id TEXT REFERENCES users (id),
					subject TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'open',
					priority TEXT NOT NULL DEFAULT 'normal',
					created_at TEXT,
					updated_at TEXT
				);

				CREATE TABLE IF NOT EXISTS ticket_replies (
					id TEXT PRIMARY KEY NOT NULL,
					ticket_id TEXT NOT NULL REFERENCES support_tickets (id),
					user_id TEXT REFERENCES users (id),
					body TEXT,
					created_at TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_ticket_replies_ticket_id ON ticket_replies (ticket_id);

				CREATE TABLE IF NOT EXISTS ticket_attachments (
					id TEXT PRIMARY KEY NOT NULL,
					ticket_id TEXT NOT NULL REFERENCES support_tickets (id),
					reply_id TEXT REFERENCES ticket_replies (id),
					file_name TEXT NOT NULL DEFAULT '',
					url TEXT,
					size_bytes INTEGER,
					created_at TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_ticket_attachments_ticket_id ON ticket_attachments (ticket_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range GetMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		if err := runMigration(db, migration); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}

	return nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// CurrentVersion returns the highest applied migration, or 0.
func CurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// runMigration executes a single migration
func runMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		migration.Version, migration.Name,
	); err != nil {
		return err
	}

	return tx.Commit()
}
