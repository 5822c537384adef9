package models

import (
	"time"
)

// Recipient status values
const (
	RecipientStatusInvited  = "INVITED"
	RecipientStatusJoined   = "JOINED"
	RecipientStatusDeleting = "DELETING"
)

// Recipient is a counterparty tracked within a ledger.
type Recipient struct {
	RecipientID     string     `json:"recipient_id" db:"recipient_id"`
	LedgerID        string     `json:"ledger_id" db:"ledger_id"`
	RecipientName   string     `json:"recipient_name" db:"recipient_name"`
	PhoneNormalized string     `json:"phone_normalized,omitempty" db:"phone_normalized"`
	Status          string     `json:"status" db:"status"`
	InvitedAt       time.Time  `json:"invited_at" db:"invited_at"`
	JoinedAt        *time.Time `json:"joined_at,omitempty" db:"joined_at"`
	JoinedName      string     `json:"joined_name,omitempty" db:"joined_name"`
}

// PhoneMapping is the denormalized phone -> recipient index. It can lag or go
// missing after partial writes; the identity directory reconstructs it lazily.
type PhoneMapping struct {
	PhoneNormalized string `json:"phone_normalized" db:"phone_normalized"`
	RecipientID     string `json:"recipient_id" db:"recipient_id"`
	LedgerID        string `json:"ledger_id" db:"ledger_id"`
	RecipientName   string `json:"recipient_name" db:"recipient_name"`
}

// RecipientSummary is the derived running balance for one recipient.
// netCents = totalSentCents - totalReceivedCents over currently existing
// transactions; it converges via recompute.
type RecipientSummary struct {
	RecipientID        string     `json:"recipient_id" db:"recipient_id"`
	LedgerID           string     `json:"ledger_id" db:"ledger_id"`
	TotalSentCents     int64      `json:"total_sent_cents" db:"total_sent_cents"`
	TotalReceivedCents int64      `json:"total_received_cents" db:"total_received_cents"`
	NetCents           int64      `json:"net_cents" db:"net_cents"`
	LastTxnAt          *time.Time `json:"last_txn_at" db:"last_txn_at"`
}
