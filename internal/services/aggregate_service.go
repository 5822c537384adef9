package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/paisabook/backend/internal/config"
	"github.com/paisabook/backend/internal/models"
)

// AggregateService maintains the derived RecipientSummary and LedgerSummary
// records. ApplyDelta is the cheap best-effort increment used on create;
// Recompute is the authoritative full re-derivation used on delete.
type AggregateService struct {
	db     *sql.DB
	config *config.EngineConfig
}

func NewAggregateService(db *sql.DB) *AggregateService {
	return &AggregateService{
		db:     db,
		config: config.LoadEngineConfig(),
	}
}

// ApplyDelta increments both summaries for one newly created transaction.
// It runs outside the atomic unit that wrote the transaction and is NOT
// idempotent: invoking it twice for the same transaction double-counts, so
// callers invoke it at most once per successful create and never retry it.
// last_txn_at is a max merge, so a concurrent create carrying an older
// business date cannot regress the displayed last-activity date.
func (s *AggregateService) ApplyDelta(ctx context.Context, recipientID, ledgerID, direction string, amountCents int64, txnAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	var sent, received, net int64
	switch direction {
	case models.DirectionSent:
		sent, net = amountCents, amountCents
	case models.DirectionReceived:
		received, net = amountCents, -amountCents
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, direction)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipient_summaries (recipient_id, ledger_id, total_sent_cents, total_received_cents, net_cents, last_txn_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient_id) DO UPDATE SET
			total_sent_cents = recipient_summaries.total_sent_cents + EXCLUDED.total_sent_cents,
			total_received_cents = recipient_summaries.total_received_cents + EXCLUDED.total_received_cents,
			net_cents = recipient_summaries.net_cents + EXCLUDED.net_cents,
			last_txn_at = GREATEST(recipient_summaries.last_txn_at, EXCLUDED.last_txn_at)
	`, recipientID, ledgerID, sent, received, net, txnAt)
	if err != nil {
		return wrapStoreErr(err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_summaries (ledger_id, total_sent_cents, total_received_cents, last_txn_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ledger_id) DO UPDATE SET
			total_sent_cents = ledger_summaries.total_sent_cents + EXCLUDED.total_sent_cents,
			total_received_cents = ledger_summaries.total_received_cents + EXCLUDED.total_received_cents,
			last_txn_at = GREATEST(ledger_summaries.last_txn_at, EXCLUDED.last_txn_at)
	`, ledgerID, sent, received, txnAt)
	if err != nil {
		return wrapStoreErr(err)
	}

	return nil
}

// Recompute re-derives both summaries from the currently existing
// transactions. It is idempotent and safe to run concurrently; the last
// writer wins on the summary rows.
func (s *AggregateService) Recompute(ctx context.Context, recipientID, ledgerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	if err := s.recomputeRecipient(ctx, recipientID, ledgerID); err != nil {
		return err
	}
	return s.recomputeLedger(ctx, ledgerID)
}

// RecomputeLedger re-derives only the ledger summary, used after a recipient
// cascade removed the recipient summary outright.
func (s *AggregateService) RecomputeLedger(ctx context.Context, ledgerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	return s.recomputeLedger(ctx, ledgerID)
}

func (s *AggregateService) recomputeRecipient(ctx context.Context, recipientID, ledgerID string) error {
	var sent, received int64
	var count int
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'SENT' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'RECEIVED' THEN amount_cents ELSE 0 END), 0),
			COUNT(*),
			MAX(txn_at)
		FROM transactions WHERE recipient_id = $1
	`, recipientID).Scan(&sent, &received, &count, &last)
	if err != nil {
		return wrapStoreErr(err)
	}

	if count == 0 {
		// Zero transactions left: the summary is deleted, not zeroed.
		_, err = s.db.ExecContext(ctx, `DELETE FROM recipient_summaries WHERE recipient_id = $1`, recipientID)
		if err != nil {
			return wrapStoreErr(err)
		}
		log.Printf("[AGGREGATE] Removed empty summary for recipient %s", recipientID)
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recipient_summaries (recipient_id, ledger_id, total_sent_cents, total_received_cents, net_cents, last_txn_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient_id) DO UPDATE SET
			ledger_id = EXCLUDED.ledger_id,
			total_sent_cents = EXCLUDED.total_sent_cents,
			total_received_cents = EXCLUDED.total_received_cents,
			net_cents = EXCLUDED.net_cents,
			last_txn_at = EXCLUDED.last_txn_at
	`, recipientID, ledgerID, sent, received, sent-received, last.Time)
	if err != nil {
		return wrapStoreErr(err)
	}

	log.Printf("[AGGREGATE] Recomputed summary for recipient %s: sent=%d received=%d net=%d", recipientID, sent, received, sent-received)
	return nil
}

func (s *AggregateService) recomputeLedger(ctx context.Context, ledgerID string) error {
	var sent, received int64
	var count int
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'SENT' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'RECEIVED' THEN amount_cents ELSE 0 END), 0),
			COUNT(*),
			MAX(txn_at)
		FROM transactions WHERE ledger_id = $1
	`, ledgerID).Scan(&sent, &received, &count, &last)
	if err != nil {
		return wrapStoreErr(err)
	}

	if count == 0 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM ledger_summaries WHERE ledger_id = $1`, ledgerID)
		if err != nil {
			return wrapStoreErr(err)
		}
		log.Printf("[AGGREGATE] Removed empty summary for ledger %s", ledgerID)
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_summaries (ledger_id, total_sent_cents, total_received_cents, last_txn_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ledger_id) DO UPDATE SET
			total_sent_cents = EXCLUDED.total_sent_cents,
			total_received_cents = EXCLUDED.total_received_cents,
			last_txn_at = EXCLUDED.last_txn_at
	`, ledgerID, sent, received, last.Time)
	if err != nil {
		return wrapStoreErr(err)
	}

	log.Printf("[AGGREGATE] Recomputed summary for ledger %s: sent=%d received=%d", ledgerID, sent, received)
	return nil
}

// GetRecipientSummary fetches one recipient summary for display. A missing
// row means no transactions currently exist for the recipient.
func (s *AggregateService) GetRecipientSummary(ctx context.Context, recipientID string) (*models.RecipientSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	var summary models.RecipientSummary
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT recipient_id, ledger_id, total_sent_cents, total_received_cents, net_cents, last_txn_at
		FROM recipient_summaries WHERE recipient_id = $1
	`, recipientID).Scan(&summary.RecipientID, &summary.LedgerID, &summary.TotalSentCents,
		&summary.TotalReceivedCents, &summary.NetCents, &last)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if last.Valid {
		summary.LastTxnAt = &last.Time
	}
	return &summary, nil
}

// GetLedgerSummary fetches one ledger summary for display.
func (s *AggregateService) GetLedgerSummary(ctx context.Context, ledgerID string) (*models.LedgerSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	var summary models.LedgerSummary
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT ledger_id, total_sent_cents, total_received_cents, last_txn_at
		FROM ledger_summaries WHERE ledger_id = $1
	`, ledgerID).Scan(&summary.LedgerID, &summary.TotalSentCents, &summary.TotalReceivedCents, &last)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if last.Valid {
		summary.LastTxnAt = &last.Time
	}
	return &summary, nil
}
