package database

import (
	"database/sql"
	"fmt"
)

// EnsureSchema creates the ledger engine tables when they do not exist yet.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS admins (
		admin_id         TEXT PRIMARY KEY,
		admin_name       TEXT NOT NULL,
		phone_normalized TEXT NOT NULL UNIQUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledgers (
		ledger_id  TEXT PRIMARY KEY,
		admin_id   TEXT NOT NULL REFERENCES admins(admin_id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS recipients (
		recipient_id     TEXT PRIMARY KEY,
		ledger_id        TEXT NOT NULL,
		recipient_name   TEXT NOT NULL,
		phone_normalized TEXT,
		access_code_hash TEXT,
		status           TEXT NOT NULL DEFAULT 'INVITED',
		invited_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		joined_at        TIMESTAMPTZ,
		joined_name      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_phone ON recipients (phone_normalized)`,
	`CREATE INDEX IF NOT EXISTS idx_recipients_ledger ON recipients (ledger_id)`,
	`CREATE TABLE IF NOT EXISTS phone_mappings (
		phone_normalized TEXT PRIMARY KEY,
		recipient_id     TEXT NOT NULL,
		ledger_id        TEXT NOT NULL,
		recipient_name   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		txn_id                   TEXT PRIMARY KEY,
		ledger_id                TEXT NOT NULL,
		recipient_id             TEXT NOT NULL,
		direction                TEXT NOT NULL CHECK (direction IN ('SENT', 'RECEIVED')),
		amount_cents             BIGINT NOT NULL CHECK (amount_cents > 0),
		txn_at                   TIMESTAMPTZ NOT NULL,
		created_at               TIMESTAMPTZ NOT NULL,
		created_by_uid           TEXT NOT NULL,
		recipient_name_snapshot  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_recipient ON transactions (recipient_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_ledger ON transactions (ledger_id)`,
	`CREATE TABLE IF NOT EXISTS recipient_summaries (
		recipient_id         TEXT PRIMARY KEY,
		ledger_id            TEXT NOT NULL,
		total_sent_cents     BIGINT NOT NULL DEFAULT 0,
		total_received_cents BIGINT NOT NULL DEFAULT 0,
		net_cents            BIGINT NOT NULL DEFAULT 0,
		last_txn_at          TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_summaries (
		ledger_id            TEXT PRIMARY KEY,
		total_sent_cents     BIGINT NOT NULL DEFAULT 0,
		total_received_cents BIGINT NOT NULL DEFAULT 0,
		last_txn_at          TIMESTAMPTZ
	)`,
}

func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema setup failed: %w", err)
		}
	}
	return nil
}
