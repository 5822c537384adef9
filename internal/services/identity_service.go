package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/paisabook/backend/internal/config"
	"github.com/paisabook/backend/internal/models"
	"github.com/paisabook/backend/internal/phone"
)

// IdentityService resolves a phone number into an admin or coworker session.
// The admin whitelist is injected so tests can pass fixtures.
type IdentityService struct {
	db        *sql.DB
	whitelist map[string]string // normalized phone -> admin name
	config    *config.EngineConfig
}

func NewIdentityService(db *sql.DB, whitelist map[string]string) *IdentityService {
	return &IdentityService{
		db:        db,
		whitelist: whitelist,
		config:    config.LoadEngineConfig(),
	}
}

// Resolve maps a raw phone string to a session. It returns (nil, nil) for an
// unregistered phone and fails closed on inconsistent directory state.
func (s *IdentityService) Resolve(ctx context.Context, phoneRaw string) (*models.Session, error) {
	norm, err := phone.Normalize(phoneRaw)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	if name, ok := s.whitelist[norm]; ok {
		return s.resolveAdmin(ctx, norm, name)
	}
	return s.resolveRecipient(ctx, norm)
}

// resolveAdmin bootstraps the admin/ledger pair idempotently. Ids are derived
// from the normalized phone, so existence can be checked before any write and
// a stored admin name is never overwritten by whitelist data.
func (s *IdentityService) resolveAdmin(ctx context.Context, norm, whitelistName string) (*models.Session, error) {
	adminID := "admin_" + norm
	ledgerID := "ledger_" + norm

	var storedName string
	err := s.db.QueryRowContext(ctx, `SELECT admin_name FROM admins WHERE admin_id = $1`, adminID).Scan(&storedName)
	switch {
	case err == sql.ErrNoRows:
		if err := s.bootstrapAdmin(ctx, adminID, ledgerID, norm, whitelistName); err != nil {
			return nil, err
		}
		storedName = whitelistName
		log.Printf("[IDENTITY] Bootstrapped admin %s with ledger %s", adminID, ledgerID)
	case err != nil:
		return nil, wrapStoreErr(err)
	}

	return &models.Session{
		Role:      models.RoleAdmin,
		AdminID:   adminID,
		AdminName: storedName,
		LedgerID:  ledgerID,
	}, nil
}

func (s *IdentityService) bootstrapAdmin(ctx context.Context, adminID, ledgerID, norm, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback()

	// ON CONFLICT DO NOTHING keeps a concurrent bootstrap of the same phone
	// from failing; neither writer overwrites an existing name.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO admins (admin_id, admin_name, phone_normalized, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (admin_id) DO NOTHING
	`, adminID, name, norm)
	if err != nil {
		return wrapStoreErr(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledgers (ledger_id, admin_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (ledger_id) DO NOTHING
	`, ledgerID, adminID)
	if err != nil {
		return wrapStoreErr(err)
	}

	return wrapStoreErr(tx.Commit())
}

func (s *IdentityService) resolveRecipient(ctx context.Context, norm string) (*models.Session, error) {
	var mapping models.PhoneMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings
		WHERE phone_normalized = $1
	`, norm).Scan(&mapping.RecipientID, &mapping.LedgerID, &mapping.RecipientName)

	if err == sql.ErrNoRows {
		// Self-healing path: the mapping is a denormalized index that can lag
		// or be missing from older data or partial writes. Fall back to a
		// direct scan of recipients and reconstruct it.
		err = s.db.QueryRowContext(ctx, `
			SELECT recipient_id, ledger_id, recipient_name FROM recipients
			WHERE phone_normalized = $1 AND status <> $2
			LIMIT 1
		`, norm, models.RecipientStatusDeleting).Scan(&mapping.RecipientID, &mapping.LedgerID, &mapping.RecipientName)
		if err == sql.ErrNoRows {
			return nil, nil // unregistered phone
		}
		if err != nil {
			return nil, wrapStoreErr(err)
		}

		if _, healErr := s.db.ExecContext(ctx, `
			INSERT INTO phone_mappings (phone_normalized, recipient_id, ledger_id, recipient_name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (phone_normalized) DO NOTHING
		`, norm, mapping.RecipientID, mapping.LedgerID, mapping.RecipientName); healErr != nil {
			log.Printf("[IDENTITY] Failed to reconstruct phone mapping for recipient %s: %v", mapping.RecipientID, healErr)
		} else {
			log.Printf("[IDENTITY] Reconstructed missing phone mapping for recipient %s", mapping.RecipientID)
		}
	} else if err != nil {
		return nil, wrapStoreErr(err)
	}

	var ledgerID, name, status string
	err = s.db.QueryRowContext(ctx, `
		SELECT ledger_id, recipient_name, status FROM recipients
		WHERE recipient_id = $1
	`, mapping.RecipientID).Scan(&ledgerID, &name, &status)
	if err == sql.ErrNoRows {
		log.Printf("[IDENTITY] Phone mapping points at missing recipient %s", mapping.RecipientID)
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	if ledgerID != mapping.LedgerID {
		// Inconsistent directory state: returning a session here could hand the
		// caller a wrong ledger.
		log.Printf("[IDENTITY] Ledger disagreement for recipient %s: mapping=%s recipient=%s",
			mapping.RecipientID, mapping.LedgerID, ledgerID)
		return nil, nil
	}
	if status == models.RecipientStatusDeleting {
		return nil, nil
	}

	if status != models.RecipientStatusJoined {
		if err := s.markJoined(ctx, mapping.RecipientID); err != nil {
			return nil, err
		}
	}

	return &models.Session{
		Role:          models.RoleCoworker,
		RecipientID:   mapping.RecipientID,
		RecipientName: name,
		LedgerID:      ledgerID,
	}, nil
}

// ResolveAccessCode maps a recipient id and access code to a coworker
// session. Unknown ids, phone-bound recipients and wrong codes all resolve to
// no session so the caller cannot tell them apart.
func (s *IdentityService) ResolveAccessCode(ctx context.Context, recipientID, code string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	var ledgerID, name, status string
	var codeHash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients
		WHERE recipient_id = $1
	`, recipientID).Scan(&ledgerID, &name, &status, &codeHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	if status == models.RecipientStatusDeleting || !codeHash.Valid || !verifyAccessCode(code, codeHash.String) {
		return nil, nil
	}

	if status != models.RecipientStatusJoined {
		if err := s.markJoined(ctx, recipientID); err != nil {
			return nil, err
		}
	}

	return &models.Session{
		Role:          models.RoleCoworker,
		RecipientID:   recipientID,
		RecipientName: name,
		LedgerID:      ledgerID,
	}, nil
}

// markJoined transitions INVITED -> JOINED exactly once. The status guard in
// the WHERE clause keeps later logins from rewriting joined_at/joined_name.
func (s *IdentityService) markJoined(ctx context.Context, recipientID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET status = $1, joined_at = $2, joined_name = recipient_name
		WHERE recipient_id = $3 AND status = $4
	`, models.RecipientStatusJoined, time.Now().UTC(), recipientID, models.RecipientStatusInvited)
	if err != nil {
		return wrapStoreErr(err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Printf("[IDENTITY] Recipient %s joined", recipientID)
	}
	return nil
}
