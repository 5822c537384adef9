package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paisabook/backend/internal/audit"
	"github.com/paisabook/backend/internal/config"
	"github.com/paisabook/backend/internal/middleware"
	"github.com/paisabook/backend/internal/models"
)

// TransactionService creates and hard-deletes immutable transaction records.
// The recipient/ledger check and the transaction insert share one SQL
// transaction; it is the only strongly consistent step in the engine.
type TransactionService struct {
	db         *sql.DB
	aggregates *AggregateService
	audit      *audit.AuditLogger
	validator  *ValidationHelper
	config     *config.EngineConfig
}

type CreateTransactionRequest struct {
	LedgerID              string     `json:"ledgerId" validate:"required"`
	RecipientID           string     `json:"recipientId" validate:"required"`
	Direction             string     `json:"direction" validate:"required,oneof=SENT RECEIVED"`
	AmountCents           int64      `json:"amountCents" validate:"required,gt=0"`
	TxnAt                 *time.Time `json:"txnAt,omitempty"`
	CreatedByUID          string     `json:"-"`
	RecipientNameSnapshot string     `json:"recipientNameSnapshot,omitempty"`
}

func NewTransactionService(db *sql.DB, aggregates *AggregateService) *TransactionService {
	return &TransactionService{
		db:         db,
		aggregates: aggregates,
		audit:      audit.NewAuditLogger(),
		validator:  NewValidationHelper(),
		config:     config.LoadEngineConfig(),
	}
}

// Create validates preconditions before any I/O, then writes the transaction
// inside one atomic read-modify-write unit: read the recipient, check its
// ledger, insert the record. The aggregate increment runs after commit,
// outside that unit, and is applied at most once.
func (ts *TransactionService) Create(ctx context.Context, req *CreateTransactionRequest) (string, error) {
	switch {
	case req.LedgerID == "":
		return "", fmt.Errorf("%w: ledgerId is required", ErrInvalidArgument)
	case req.RecipientID == "":
		return "", fmt.Errorf("%w: recipientId is required", ErrInvalidArgument)
	case req.CreatedByUID == "":
		return "", fmt.Errorf("%w: createdByUid is required", ErrInvalidArgument)
	case req.AmountCents <= 0:
		return "", fmt.Errorf("%w: amountCents must be positive", ErrInvalidArgument)
	case req.Direction != models.DirectionSent && req.Direction != models.DirectionReceived:
		return "", fmt.Errorf("%w: direction must be SENT or RECEIVED", ErrInvalidArgument)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, ts.config.StoreTimeout)
	defer cancel()

	now := time.Now().UTC() // server write time, distinct from the business date
	txnAt := now
	if req.TxnAt != nil {
		txnAt = req.TxnAt.UTC()
	}

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapStoreErr(err)
	}
	defer tx.Rollback()

	var recipientLedger, recipientName, status string
	err = tx.QueryRowContext(ctx, `
		SELECT ledger_id, recipient_name, status FROM recipients
		WHERE recipient_id = $1
		FOR UPDATE
	`, req.RecipientID).Scan(&recipientLedger, &recipientName, &status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: recipient %s", ErrNotFound, req.RecipientID)
	}
	if err != nil {
		return "", wrapStoreErr(err)
	}
	if status == models.RecipientStatusDeleting {
		return "", fmt.Errorf("%w: recipient %s", ErrNotFound, req.RecipientID)
	}
	if recipientLedger != req.LedgerID {
		return "", fmt.Errorf("%w: recipient %s belongs to %s", ErrLedgerMismatch, req.RecipientID, recipientLedger)
	}

	snapshot := req.RecipientNameSnapshot
	if snapshot == "" {
		snapshot = recipientName
	}

	txnID := "txn_" + uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(txn_id, ledger_id, recipient_id, direction, amount_cents, txn_at, created_at, created_by_uid, recipient_name_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, txnID, req.LedgerID, req.RecipientID, req.Direction, req.AmountCents, txnAt, now, req.CreatedByUID, snapshot)
	if err != nil {
		return "", wrapStoreErr(err)
	}

	if err := tx.Commit(); err != nil {
		return "", wrapStoreErr(err)
	}

	ts.audit.LogTransaction(txnID, req.LedgerID, req.RecipientID, req.Direction, req.AmountCents, "CREATED")

	// Best-effort increment. Not retried: a second invocation would
	// double-count, and the next delete-triggered recompute corrects drift.
	// The committed transaction stands either way.
	if err := ts.aggregates.ApplyDelta(parent, req.RecipientID, req.LedgerID, req.Direction, req.AmountCents, txnAt); err != nil {
		log.Printf("[TRANSACTION] %v for txn %s: %v", ErrAggregateUpdateFailed, txnID, err)
		ts.audit.LogError(txnID, req.RecipientID, fmt.Errorf("%w: %v", ErrAggregateUpdateFailed, err))
	}

	return txnID, nil
}

// Delete hard-deletes a transaction. Once gone it is unrecoverable and
// excluded from every future aggregate computation. The authoritative
// recompute runs afterwards.
func (ts *TransactionService) Delete(ctx context.Context, txnID string) error {
	if txnID == "" {
		return fmt.Errorf("%w: txnId is required", ErrInvalidArgument)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, ts.config.StoreTimeout)
	defer cancel()

	var ledgerID, recipientID string
	err := ts.db.QueryRowContext(ctx, `
		SELECT ledger_id, recipient_id FROM transactions WHERE txn_id = $1
	`, txnID).Scan(&ledgerID, &recipientID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: transaction %s", ErrNotFound, txnID)
	}
	if err != nil {
		return wrapStoreErr(err)
	}

	_, err = ts.db.ExecContext(ctx, `DELETE FROM transactions WHERE txn_id = $1`, txnID)
	if err != nil {
		return wrapStoreErr(err)
	}

	ts.audit.LogTransaction(txnID, ledgerID, recipientID, "", 0, "DELETED")

	if err := ts.aggregates.Recompute(parent, recipientID, ledgerID); err != nil {
		log.Printf("[TRANSACTION] %v after delete of %s: %v", ErrAggregateUpdateFailed, txnID, err)
		ts.audit.LogError(txnID, recipientID, fmt.Errorf("%w: %v", ErrAggregateUpdateFailed, err))
	}

	return nil
}

// Get fetches one transaction by id.
func (ts *TransactionService) Get(ctx context.Context, txnID string) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.config.StoreTimeout)
	defer cancel()

	var txn models.Transaction
	err := ts.db.QueryRowContext(ctx, `
		SELECT txn_id, ledger_id, recipient_id, direction, amount_cents, txn_at, created_at, created_by_uid, recipient_name_snapshot
		FROM transactions WHERE txn_id = $1
	`, txnID).Scan(&txn.TxnID, &txn.LedgerID, &txn.RecipientID, &txn.Direction, &txn.AmountCents,
		&txn.TxnAt, &txn.CreatedAt, &txn.CreatedByUID, &txn.RecipientNameSnapshot)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txnID)
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return &txn, nil
}

// ListByRecipient returns a recipient's transactions, newest business date
// first, bounded by limit.
func (ts *TransactionService) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > ts.config.ListLimit {
		limit = ts.config.ListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, ts.config.StoreTimeout)
	defer cancel()

	rows, err := ts.db.QueryContext(ctx, `
		SELECT txn_id, ledger_id, recipient_id, direction, amount_cents, txn_at, created_at, created_by_uid, recipient_name_snapshot
		FROM transactions
		WHERE recipient_id = $1
		ORDER BY txn_at DESC, created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		err := rows.Scan(&txn.TxnID, &txn.LedgerID, &txn.RecipientID, &txn.Direction, &txn.AmountCents,
			&txn.TxnAt, &txn.CreatedAt, &txn.CreatedByUID, &txn.RecipientNameSnapshot)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		transactions = append(transactions, txn)
	}
	return transactions, wrapStoreErr(rows.Err())
}

// HTTP handlers

// CreateTransaction records a new transaction for the session's ledger
// @Summary Create a transaction
// @Description Record an immutable SENT/RECEIVED transaction against a recipient
// @Tags transactions
// @Accept json
// @Produce json
// @Param transaction body CreateTransactionRequest true "Transaction data"
// @Success 201 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil || !session.IsAdmin() {
		SendErrorResponse(w, "Admin session required", http.StatusForbidden, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateTransactionRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	// The ledger and author come from the session, never from the body.
	req.LedgerID = session.LedgerID
	req.CreatedByUID = session.AdminID

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txnID, err := ts.Create(r.Context(), &req)
	if err != nil {
		log.Printf("[TRANSACTION] Create failed: %v", err)
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"txnId": txnID})
}

// DeleteTransaction removes a transaction and recomputes its aggregates
// @Summary Delete a transaction
// @Description Hard-delete a transaction; aggregates are recomputed from the remaining records
// @Tags transactions
// @Produce json
// @Param txnId path string true "Transaction ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txnId} [delete]
func (ts *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil || !session.IsAdmin() {
		SendErrorResponse(w, "Admin session required", http.StatusForbidden, nil)
		return
	}

	txnID := chi.URLParam(r, "txnId")

	txn, err := ts.Get(r.Context(), txnID)
	if err != nil {
		SendEngineError(w, err)
		return
	}
	if txn.LedgerID != session.LedgerID {
		// Cross-ledger ids are indistinguishable from unknown ones.
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	if err := ts.Delete(r.Context(), txnID); err != nil {
		log.Printf("[TRANSACTION] Delete failed for %s: %v", txnID, err)
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"deleted": txnID})
}

// GetTransaction retrieves a specific transaction
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param txnId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txnId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txn, err := ts.Get(r.Context(), chi.URLParam(r, "txnId"))
	if err != nil {
		SendEngineError(w, err)
		return
	}
	if txn.LedgerID != session.LedgerID {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	// Coworkers only ever see their own history.
	if !session.IsAdmin() && txn.RecipientID != session.RecipientID {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// ListTransactions retrieves transactions for a recipient
// @Summary List transactions
// @Description List a recipient's transactions, newest first
// @Tags transactions
// @Produce json
// @Param recipientId query string true "Recipient ID"
// @Param limit query int false "Max rows (default 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	recipientID := r.URL.Query().Get("recipientId")
	if session.Role == models.RoleCoworker {
		// Coworkers only ever see their own history.
		recipientID = session.RecipientID
	}
	if recipientID == "" {
		SendErrorResponse(w, "recipientId is required", http.StatusBadRequest, nil)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	transactions, err := ts.ListByRecipient(r.Context(), recipientID, limit)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}
