package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/paisabook/backend/internal/audit"
	"github.com/paisabook/backend/internal/config"
	"github.com/paisabook/backend/internal/middleware"
	"github.com/paisabook/backend/internal/models"
	"github.com/paisabook/backend/internal/phone"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// RecipientService creates recipient slots and cascades their deletion to
// transactions, mappings and summaries.
type RecipientService struct {
	db         *sql.DB
	aggregates *AggregateService
	audit      *audit.AuditLogger
	validator  *ValidationHelper
	config     *config.EngineConfig
}

type CreateRecipientRequest struct {
	RecipientName string `json:"recipientName" validate:"required,min=1,max=100"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
}

func NewRecipientService(db *sql.DB, aggregates *AggregateService) *RecipientService {
	return &RecipientService{
		db:         db,
		aggregates: aggregates,
		audit:      audit.NewAuditLogger(),
		validator:  NewValidationHelper(),
		config:     config.LoadEngineConfig(),
	}
}

// CreateWithPhone creates an INVITED recipient and its phone mapping inside
// one atomic unit. The mapping uniqueness check and the writes share a SQL
// transaction, and the mapping's primary key catches the check-then-write
// race, so two recipients can never claim the same phone.
func (s *RecipientService) CreateWithPhone(ctx context.Context, ledgerID, recipientName, phoneNumber string) (string, error) {
	if ledgerID == "" || strings.TrimSpace(recipientName) == "" {
		return "", fmt.Errorf("%w: ledgerId and recipientName are required", ErrInvalidArgument)
	}
	norm, err := phone.Normalize(phoneNumber)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapStoreErr(err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT recipient_id FROM phone_mappings WHERE phone_normalized = $1
	`, norm).Scan(&existing)
	if err == nil {
		return "", fmt.Errorf("%w: %s", ErrPhoneAlreadyRegistered, norm)
	}
	if err != sql.ErrNoRows {
		return "", wrapStoreErr(err)
	}

	recipientID := "rcpt_" + uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipients (recipient_id, ledger_id, recipient_name, phone_normalized, status, invited_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, recipientID, ledgerID, recipientName, norm, models.RecipientStatusInvited)
	if err != nil {
		return "", wrapStoreErr(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO phone_mappings (phone_normalized, recipient_id, ledger_id, recipient_name)
		VALUES ($1, $2, $3, $4)
	`, norm, recipientID, ledgerID, recipientName)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", ErrPhoneAlreadyRegistered, norm)
		}
		return "", wrapStoreErr(err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", ErrPhoneAlreadyRegistered, norm)
		}
		return "", wrapStoreErr(err)
	}

	log.Printf("[RECIPIENT] Created %s (phone %s) in ledger %s", recipientID, norm, ledgerID)
	return recipientID, nil
}

// CreateWithAccessCode creates an INVITED recipient slot bound to a generated
// access code for counterparties without a phone. Only the argon2 hash is
// stored; the plaintext code is returned once.
func (s *RecipientService) CreateWithAccessCode(ctx context.Context, ledgerID, recipientName string) (string, string, error) {
	if ledgerID == "" || strings.TrimSpace(recipientName) == "" {
		return "", "", fmt.Errorf("%w: ledgerId and recipientName are required", ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	code := generateAccessCode(s.config.AccessCodeLength)
	codeHash, err := hashAccessCode(code)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash access code: %w", err)
	}

	recipientID := "rcpt_" + uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recipients (recipient_id, ledger_id, recipient_name, access_code_hash, status, invited_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, recipientID, ledgerID, recipientName, codeHash, models.RecipientStatusInvited)
	if err != nil {
		return "", "", wrapStoreErr(err)
	}

	log.Printf("[RECIPIENT] Created %s (access code) in ledger %s", recipientID, ledgerID)
	return recipientID, code, nil
}

// Delete cascades a recipient's removal: the recipient is marked DELETING
// first so a crashed cascade can be re-run on the same id, then its
// transactions are deleted in size-bounded batches, then the mapping,
// summary and recipient rows, and finally the owning ledger summary is
// recomputed. The batched deletes are not transactional across batches.
func (s *RecipientService) Delete(ctx context.Context, recipientID string) error {
	if recipientID == "" {
		return fmt.Errorf("%w: recipientId is required", ErrInvalidArgument)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	var ledgerID, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT ledger_id, status FROM recipients WHERE recipient_id = $1
	`, recipientID).Scan(&ledgerID, &status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: recipient %s", ErrNotFound, recipientID)
	}
	if err != nil {
		return wrapStoreErr(err)
	}

	if status != models.RecipientStatusDeleting {
		_, err = s.db.ExecContext(ctx, `
			UPDATE recipients SET status = $1 WHERE recipient_id = $2
		`, models.RecipientStatusDeleting, recipientID)
		if err != nil {
			return wrapStoreErr(err)
		}
	}

	deleted, err := s.deleteTransactionBatches(ctx, recipientID)
	if err != nil {
		s.audit.LogCascade(recipientID, ledgerID, deleted, "INTERRUPTED")
		return err
	}

	for _, stmt := range []string{
		`DELETE FROM phone_mappings WHERE recipient_id = $1`,
		`DELETE FROM recipient_summaries WHERE recipient_id = $1`,
		`DELETE FROM recipients WHERE recipient_id = $1`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt, recipientID); err != nil {
			s.audit.LogCascade(recipientID, ledgerID, deleted, "INTERRUPTED")
			return wrapStoreErr(err)
		}
	}

	s.audit.LogCascade(recipientID, ledgerID, deleted, "SUCCESS")
	log.Printf("[RECIPIENT] Deleted %s with %d transactions from ledger %s", recipientID, deleted, ledgerID)

	if err := s.aggregates.RecomputeLedger(parent, ledgerID); err != nil {
		log.Printf("[RECIPIENT] %v for ledger %s after cascade: %v", ErrAggregateUpdateFailed, ledgerID, err)
		s.audit.LogError("", recipientID, fmt.Errorf("%w: %v", ErrAggregateUpdateFailed, err))
	}

	return nil
}

func (s *RecipientService) deleteTransactionBatches(ctx context.Context, recipientID string) (int, error) {
	deleted := 0
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT txn_id FROM transactions WHERE recipient_id = $1 LIMIT $2
		`, recipientID, s.config.CascadeBatchSize)
		if err != nil {
			return deleted, wrapStoreErr(err)
		}

		ids := []string{}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return deleted, wrapStoreErr(err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return deleted, wrapStoreErr(err)
		}

		if len(ids) == 0 {
			return deleted, nil
		}

		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM transactions WHERE txn_id = ANY($1)
		`, pq.Array(ids)); err != nil {
			return deleted, wrapStoreErr(err)
		}
		deleted += len(ids)
	}
}

// Get fetches one recipient by id.
func (s *RecipientService) Get(ctx context.Context, recipientID string) (*models.Recipient, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	var r models.Recipient
	var phoneNorm, joinedName sql.NullString
	var joinedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT recipient_id, ledger_id, recipient_name, phone_normalized, status, invited_at, joined_at, joined_name
		FROM recipients WHERE recipient_id = $1
	`, recipientID).Scan(&r.RecipientID, &r.LedgerID, &r.RecipientName, &phoneNorm, &r.Status, &r.InvitedAt, &joinedAt, &joinedName)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: recipient %s", ErrNotFound, recipientID)
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	r.PhoneNormalized = phoneNorm.String
	r.JoinedName = joinedName.String
	if joinedAt.Valid {
		r.JoinedAt = &joinedAt.Time
	}
	return &r, nil
}

// ListByLedger returns a ledger's recipients, excluding ones mid-cascade.
func (s *RecipientService) ListByLedger(ctx context.Context, ledgerID string) ([]models.Recipient, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT recipient_id, ledger_id, recipient_name, phone_normalized, status, invited_at, joined_at, joined_name
		FROM recipients
		WHERE ledger_id = $1 AND status <> $2
		ORDER BY invited_at
	`, ledgerID, models.RecipientStatusDeleting)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	recipients := []models.Recipient{}
	for rows.Next() {
		var r models.Recipient
		var phoneNorm, joinedName sql.NullString
		var joinedAt sql.NullTime
		err := rows.Scan(&r.RecipientID, &r.LedgerID, &r.RecipientName, &phoneNorm, &r.Status, &r.InvitedAt, &joinedAt, &joinedName)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		r.PhoneNormalized = phoneNorm.String
		r.JoinedName = joinedName.String
		if joinedAt.Valid {
			r.JoinedAt = &joinedAt.Time
		}
		recipients = append(recipients, r)
	}
	return recipients, wrapStoreErr(rows.Err())
}

// HTTP handlers

// CreateRecipient creates a recipient slot in the session's ledger
// @Summary Create a recipient
// @Description Create a recipient bound to a phone number, or to a generated access code when no phone is given
// @Tags recipients
// @Accept json
// @Produce json
// @Param recipient body CreateRecipientRequest true "Recipient data"
// @Success 201 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /recipients [post]
func (s *RecipientService) CreateRecipient(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil || !session.IsAdmin() {
		SendErrorResponse(w, "Admin session required", http.StatusForbidden, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateRecipientRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	response := map[string]string{}
	if req.PhoneNumber != "" {
		recipientID, err := s.CreateWithPhone(r.Context(), session.LedgerID, req.RecipientName, req.PhoneNumber)
		if err != nil {
			log.Printf("[RECIPIENT] Create failed: %v", err)
			SendEngineError(w, err)
			return
		}
		response["recipientId"] = recipientID
	} else {
		recipientID, code, err := s.CreateWithAccessCode(r.Context(), session.LedgerID, req.RecipientName)
		if err != nil {
			log.Printf("[RECIPIENT] Create failed: %v", err)
			SendEngineError(w, err)
			return
		}
		response["recipientId"] = recipientID
		response["accessCode"] = code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// DeleteRecipient cascades a recipient's removal
// @Summary Delete a recipient
// @Description Delete a recipient and cascade to its transactions, mapping and summary
// @Tags recipients
// @Produce json
// @Param recipientId path string true "Recipient ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /recipients/{recipientId} [delete]
func (s *RecipientService) DeleteRecipient(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil || !session.IsAdmin() {
		SendErrorResponse(w, "Admin session required", http.StatusForbidden, nil)
		return
	}

	recipientID := chi.URLParam(r, "recipientId")

	recipient, err := s.Get(r.Context(), recipientID)
	if err != nil {
		SendEngineError(w, err)
		return
	}
	if recipient.LedgerID != session.LedgerID {
		SendErrorResponse(w, "Recipient not found", http.StatusNotFound, nil)
		return
	}

	if err := s.Delete(r.Context(), recipientID); err != nil {
		log.Printf("[RECIPIENT] Delete failed for %s: %v", recipientID, err)
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"deleted": recipientID})
}

// ListRecipients lists the session ledger's recipients
// @Summary List recipients
// @Tags recipients
// @Produce json
// @Success 200 {object} object{recipients=[]models.Recipient,count=int}
// @Router /recipients [get]
func (s *RecipientService) ListRecipients(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	recipients, err := s.ListByLedger(r.Context(), session.LedgerID)
	if err != nil {
		SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"recipients": recipients,
		"count":      len(recipients),
	})
}

// Access code helpers

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func generateAccessCode(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	cryptorand.Read(b)
	for i := range b {
		b[i] = digits[int(b[i])%len(digits)]
	}
	return string(b)
}

func hashAccessCode(code string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(code), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyAccessCode(code, hashedCode string) bool {
	parts := strings.Split(hashedCode, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(code), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}
