package audit

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	TxnID       string    `json:"txn_id,omitempty"`
	LedgerID    string    `json:"ledger_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogTransaction(txnID, ledgerID, recipientID, direction string, amountCents int64, status string) {
	event := AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "TRANSACTION",
		TxnID:       txnID,
		LedgerID:    ledgerID,
		RecipientID: recipientID,
		AmountCents: amountCents,
		Status:      status,
		Details:     map[string]string{"direction": direction},
	}
	a.log(event)
}

func (a *AuditLogger) LogCascade(recipientID, ledgerID string, deleted int, status string) {
	event := AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "CASCADE_DELETE",
		LedgerID:    ledgerID,
		RecipientID: recipientID,
		Status:      status,
		Details:     map[string]int{"transactions_deleted": deleted},
	}
	a.log(event)
}

func (a *AuditLogger) LogError(txnID, recipientID string, err error) {
	event := AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		TxnID:       txnID,
		RecipientID: recipientID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
