package models

import (
	"time"
)

// Transaction directions
const (
	DirectionSent     = "SENT"     // ledger owner paid out
	DirectionReceived = "RECEIVED" // ledger owner received funds
)

// Transaction is an immutable financial event between a ledger and a
// recipient. Amounts are integer minor units. Created once, never mutated,
// only ever hard-deleted.
type Transaction struct {
	TxnID                 string    `json:"txn_id" db:"txn_id"`
	LedgerID              string    `json:"ledger_id" db:"ledger_id"`
	RecipientID           string    `json:"recipient_id" db:"recipient_id"`
	Direction             string    `json:"direction" db:"direction"`
	AmountCents           int64     `json:"amount_cents" db:"amount_cents"`
	TxnAt                 time.Time `json:"txn_at" db:"txn_at"`          // business date
	CreatedAt             time.Time `json:"created_at" db:"created_at"`  // server write time
	CreatedByUID          string    `json:"created_by_uid" db:"created_by_uid"`
	RecipientNameSnapshot string    `json:"recipient_name_snapshot" db:"recipient_name_snapshot"`
}
