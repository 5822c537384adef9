package models

import (
	"time"
)

// Ledger is the billing scope owned by one admin. Created once, never deleted.
type Ledger struct {
	LedgerID  string    `json:"ledger_id" db:"ledger_id"`
	AdminID   string    `json:"admin_id" db:"admin_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Admin ids are derived from the normalized phone, not random, so the
// identity is reconstructible without a prior directory lookup.
type Admin struct {
	AdminID         string    `json:"admin_id" db:"admin_id"`
	AdminName       string    `json:"admin_name" db:"admin_name"`
	PhoneNormalized string    `json:"phone_normalized" db:"phone_normalized"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// LedgerSummary is the derived running total across all recipients in a ledger.
type LedgerSummary struct {
	LedgerID           string     `json:"ledger_id" db:"ledger_id"`
	TotalSentCents     int64      `json:"total_sent_cents" db:"total_sent_cents"`
	TotalReceivedCents int64      `json:"total_received_cents" db:"total_received_cents"`
	LastTxnAt          *time.Time `json:"last_txn_at" db:"last_txn_at"`
}
