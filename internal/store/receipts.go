package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/p2psettle/backend/internal/models"
)

const receiptColumns = `id, content_hash, file_name, amount, commission, transferred_at,
	sender_name, recipient_name, recipient_phone, recipient_card, recipient_bank,
	transfer_type, operation_id, bank_label, layout, raw_text, parse_status,
	fail_reason, fail_line, created_at`

func scanReceipt(row interface{ Scan(...any) error }) (*models.Receipt, error) {
	var r models.Receipt
	var transferredAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.ContentHash, &r.FileName, &r.Amount, &r.Commission, &transferredAt,
		&r.SenderName, &r.RecipientName, &r.RecipientPhone, &r.RecipientCard, &r.RecipientBank,
		&r.TransferType, &r.OperationID, &r.BankLabel, &r.Layout, &r.RawText, &r.ParseStatus,
		&r.FailReason, &r.FailLine, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if transferredAt.Valid {
		r.TransferredAt = &transferredAt.Time
	}
	return &r, nil
}

// SaveReceipt inserts a parsed or quarantined receipt. Two documents with
// the same content hash are the same physical transfer, so a hash conflict
// collapses to the existing record.
func (s *Store) SaveReceipt(ctx context.Context, r *models.Receipt) error {
	var transferredAt any
	if r.TransferredAt != nil {
		transferredAt = *r.TransferredAt
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (content_hash) DO NOTHING`,
		r.ID, r.ContentHash, r.FileName, r.Amount, r.Commission, transferredAt,
		r.SenderName, r.RecipientName, r.RecipientPhone, r.RecipientCard, r.RecipientBank,
		r.TransferType, r.OperationID, r.BankLabel, r.Layout, r.RawText, r.ParseStatus,
		r.FailReason, r.FailLine, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving receipt: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrDuplicateReceipt
	}
	return nil
}

// ReceiptByID fetches one receipt.
func (s *Store) ReceiptByID(ctx context.Context, id string) (*models.Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReceiptNotFound
	}
	return r, err
}

// ReceiptByHash fetches a receipt by content hash, or nil when unseen.
func (s *Store) ReceiptByHash(ctx context.Context, hash string) (*models.Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE content_hash = $1`, hash)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// UnlinkedParsed lists receipts the matching engine should attempt: parsed
// successfully and not yet claimed by any payout.
func (s *Store) UnlinkedParsed(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+` FROM receipts r
		WHERE r.parse_status = 'ok'
		  AND NOT EXISTS (SELECT 1 FROM payouts p WHERE p.linked_receipt_id = r.id)
		ORDER BY r.created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing unlinked receipts: %w", err)
	}
	defer rows.Close()
	return collectReceipts(rows)
}

// Quarantined lists failed receipts for operator inspection.
func (s *Store) Quarantined(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE parse_status = 'failed'
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing quarantine: %w", err)
	}
	defer rows.Close()
	return collectReceipts(rows)
}

func collectReceipts(rows *sql.Rows) ([]models.Receipt, error) {
	var receipts []models.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *r)
	}
	return receipts, rows.Err()
}

// RecordAmbiguity stores an ambiguous match for operator review. Re-running
// the matcher over the same receipt keeps the existing open row.
func (s *Store) RecordAmbiguity(ctx context.Context, receiptID string, candidates []int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ambiguities (receipt_id, candidates)
		VALUES ($1, $2)
		ON CONFLICT (receipt_id) WHERE NOT resolved DO NOTHING`,
		receiptID, pq.Array(candidates))
	if err != nil {
		return fmt.Errorf("recording ambiguity: %w", err)
	}
	return nil
}

// OpenAmbiguities lists unresolved ambiguous matches.
func (s *Store) OpenAmbiguities(ctx context.Context) ([]models.Ambiguity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_id, candidates, resolved, created_at
		FROM ambiguities WHERE NOT resolved ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing ambiguities: %w", err)
	}
	defer rows.Close()

	var out []models.Ambiguity
	for rows.Next() {
		var a models.Ambiguity
		var candidates pq.Int64Array
		if err := rows.Scan(&a.ID, &a.ReceiptID, &candidates, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Candidates = candidates
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveAmbiguity marks an ambiguity handled after an operator repair.
func (s *Store) ResolveAmbiguity(ctx context.Context, receiptID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ambiguities SET resolved = TRUE WHERE receipt_id = $1 AND NOT resolved`,
		receiptID)
	return err
}
