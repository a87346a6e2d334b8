package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration holds a single schema migration with its target version.
// Statements are plain SQL accepted by both sqlite and postgres.
type migration struct {
	version    int
	statements []string
}

const sqlCreateSchemaVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id TEXT NOT NULL PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				summary TEXT NOT NULL DEFAULT '',
				avatar_url TEXT NOT NULL DEFAULT '',
				web_public_key TEXT NOT NULL,
				web_private_key TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS remote_accounts (
				id TEXT NOT NULL PRIMARY KEY,
				username TEXT NOT NULL,
				domain TEXT NOT NULL,
				actor_uri TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				summary TEXT NOT NULL DEFAULT '',
				inbox_uri TEXT NOT NULL,
				outbox_uri TEXT NOT NULL DEFAULT '',
				public_key_pem TEXT NOT NULL,
				avatar_url TEXT NOT NULL DEFAULT '',
				last_fetched_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain)`,
			`CREATE TABLE IF NOT EXISTS follows (
				id TEXT NOT NULL PRIMARY KEY,
				account_id TEXT NOT NULL,
				target_account_id TEXT NOT NULL,
				uri TEXT NOT NULL,
				accepted BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL,
				UNIQUE(account_id, target_account_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_follows_target_account_id ON follows(target_account_id)`,
			`CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS inbox_items (
				id TEXT NOT NULL PRIMARY KEY,
				actor_id TEXT NOT NULL,
				activity_uri TEXT NOT NULL,
				activity_type TEXT NOT NULL,
				raw_json TEXT NOT NULL,
				processed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL,
				UNIQUE(actor_id, activity_uri)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_inbox_items_created_at ON inbox_items(actor_id, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS outbox_items (
				id TEXT NOT NULL PRIMARY KEY,
				actor_id TEXT NOT NULL,
				activity_uri TEXT NOT NULL,
				activity_type TEXT NOT NULL,
				raw_json TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				UNIQUE(actor_id, activity_uri)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_outbox_items_created_at ON outbox_items(actor_id, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS delivery_queue (
				id TEXT NOT NULL PRIMARY KEY,
				actor_id TEXT NOT NULL,
				inbox_uri TEXT NOT NULL,
				activity_json TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				next_retry_at TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at)`,
		},
	},
	{
		version: 3,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS notifications (
				id TEXT NOT NULL PRIMARY KEY,
				recipient_id TEXT NOT NULL,
				actor_id TEXT NOT NULL,
				type TEXT NOT NULL,
				post_id TEXT,
				comment_id TEXT,
				message TEXT NOT NULL DEFAULT '',
				read BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS push_subscriptions (
				id TEXT NOT NULL PRIMARY KEY,
				actor_id TEXT NOT NULL,
				endpoint TEXT NOT NULL,
				p256dh TEXT NOT NULL,
				auth TEXT NOT NULL,
				user_agent TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE(actor_id, endpoint)
			)`,
		},
	},
}

// RunMigrations checks the current schema version and applies any
// outstanding migrations in order, each in its own transaction.
func (db *DB) RunMigrations(ctx context.Context) error {
	if _, err := db.db.ExecContext(ctx, sqlCreateSchemaVersionTable); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.db.GetContext(ctx, &currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		err := db.wrapTransaction(ctx, func(tx *sqlx.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		db.log.Info().Int("version", m.version).Msg("Applied migration")
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return v, err
}
