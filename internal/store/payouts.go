package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/p2psettle/backend/internal/models"
)

const payoutColumns = `id, gateway_id, status, amounts, wallet, linked_receipt_id, transaction_id, created_at`

func scanPayout(row interface{ Scan(...any) error }) (*models.Payout, error) {
	var p models.Payout
	var amounts []byte
	var linkedReceipt sql.NullString
	var transactionID sql.NullInt64
	err := row.Scan(&p.ID, &p.GatewayID, &p.Status, &amounts, &p.Wallet,
		&linkedReceipt, &transactionID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(amounts, &p.Amounts); err != nil {
		return nil, fmt.Errorf("decoding payout amounts: %w", err)
	}
	if linkedReceipt.Valid {
		p.LinkedReceiptID = &linkedReceipt.String
	}
	if transactionID.Valid {
		p.TransactionID = &transactionID.Int64
	}
	return &p, nil
}

// UpsertPayout applies one record from the gateway sync feed. Link fields
// are never touched here; only the matching engine and sweeper move those.
func (s *Store) UpsertPayout(ctx context.Context, p *models.Payout) error {
	amounts, err := json.Marshal(p.Amounts)
	if err != nil {
		return fmt.Errorf("encoding payout amounts: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO payouts (gateway_id, status, amounts, wallet, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (gateway_id) DO UPDATE
		SET status = EXCLUDED.status, amounts = EXCLUDED.amounts, wallet = EXCLUDED.wallet
		RETURNING id`,
		p.GatewayID, p.Status, amounts, p.Wallet,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("upserting payout: %w", err)
	}
	return nil
}

// PayoutByID fetches one payout.
func (s *Store) PayoutByID(ctx context.Context, id int64) (*models.Payout, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	p, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPayoutNotFound
	}
	return p, err
}

// PayoutForReceipt returns the payout holding a link to the receipt, or nil.
func (s *Store) PayoutForReceipt(ctx context.Context, receiptID string) (*models.Payout, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE linked_receipt_id = $1`, receiptID)
	p, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// CandidatePayouts lists payouts eligible for matching: awaiting
// confirmation and not yet linked to a receipt.
func (s *Store) CandidatePayouts(ctx context.Context, statuses []int) ([]models.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE status = ANY($1) AND linked_receipt_id IS NULL
		ORDER BY id`,
		pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("listing candidate payouts: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

// OrphanedPayouts lists awaiting payouts no transaction owns.
func (s *Store) OrphanedPayouts(ctx context.Context, statuses []int) ([]models.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts p
		WHERE p.status = ANY($1)
		  AND p.transaction_id IS NULL
		  AND NOT EXISTS (SELECT 1 FROM transactions t WHERE t.payout_id = p.id)
		ORDER BY p.id`,
		pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("listing orphaned payouts: %w", err)
	}
	defer rows.Close()
	return collectPayouts(rows)
}

func collectPayouts(rows *sql.Rows) ([]models.Payout, error) {
	var payouts []models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

// LinkReceipt claims a payout for a receipt with compare-and-set semantics:
// the write succeeds only if the payout is still unlinked. Returns false
// when another worker got there first.
func (s *Store) LinkReceipt(ctx context.Context, payoutID int64, receiptID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET linked_receipt_id = $1
		WHERE id = $2 AND linked_receipt_id IS NULL`,
		receiptID, payoutID)
	if err != nil {
		return false, fmt.Errorf("linking receipt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// UnlinkReceipt clears a payout's receipt link. Idempotent: unlinking an
// already-unlinked payout is a no-op.
func (s *Store) UnlinkReceipt(ctx context.Context, payoutID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET linked_receipt_id = NULL WHERE id = $1`, payoutID)
	if err != nil {
		return fmt.Errorf("unlinking receipt: %w", err)
	}
	return nil
}
