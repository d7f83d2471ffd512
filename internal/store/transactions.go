package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/p2psettle/backend/internal/models"
)

const transactionColumns = `id, order_id, advertisement_id, payout_id, status, chat_step,
	amount, counterparty_name, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	var orderID sql.NullString
	var payoutID sql.NullInt64
	err := row.Scan(&t.ID, &orderID, &t.AdvertisementID, &payoutID, &t.Status,
		&t.ChatStep, &t.Amount, &t.CounterpartyName, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		t.OrderID = &orderID.String
	}
	if payoutID.Valid {
		t.PayoutID = &payoutID.Int64
	}
	return &t, nil
}

// TransactionByID fetches one transaction.
func (s *Store) TransactionByID(ctx context.Context, id int64) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	return t, err
}

// TransactionForPayout returns the transaction owning a payout, or nil.
func (s *Store) TransactionForPayout(ctx context.Context, payoutID int64) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE payout_id = $1`, payoutID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// TransactionsWithPayout lists transactions carrying a payout reference,
// for the dangling-reference scan.
func (s *Store) TransactionsWithPayout(ctx context.Context) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE payout_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing transactions with payouts: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// PayoutlessTransactions lists non-terminal transactions without a payout,
// the input to the amount-based match pass.
func (s *Store) PayoutlessTransactions(ctx context.Context) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE payout_id IS NULL AND status NOT IN ('completed', 'cancelled')
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing payoutless transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ClearPayoutRef removes a transaction's payout reference. Idempotent.
func (s *Store) ClearPayoutRef(ctx context.Context, txID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE payouts SET transaction_id = NULL WHERE transaction_id = $1`, txID); err != nil {
			return fmt.Errorf("clearing payout back-reference: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET payout_id = NULL, updated_at = now() WHERE id = $1`, txID); err != nil {
			return fmt.Errorf("clearing payout reference: %w", err)
		}
		return nil
	})
}

// AssignPayout attaches a payout to a transaction with compare-and-set
// semantics on both rows. Returns false when either side is already taken.
func (s *Store) AssignPayout(ctx context.Context, txID, payoutID int64) (bool, error) {
	assigned := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE transactions SET payout_id = $1, updated_at = now()
			WHERE id = $2 AND payout_id IS NULL`,
			payoutID, txID)
		if err != nil {
			return fmt.Errorf("assigning payout: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil
		}
		res, err = tx.ExecContext(ctx, `
			UPDATE payouts SET transaction_id = $1
			WHERE id = $2 AND transaction_id IS NULL`,
			txID, payoutID)
		if err != nil {
			return fmt.Errorf("assigning payout back-reference: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return models.ErrAlreadyLinked
		}
		assigned = true
		return nil
	})
	if errors.Is(err, models.ErrAlreadyLinked) {
		return false, nil
	}
	return assigned, err
}

// AdvanceStatus moves a transaction forward only when its current status is
// one of the expected source states. Returns false when the guard fails,
// which also makes re-running a completed advance a no-op.
func (s *Store) AdvanceStatus(ctx context.Context, txID int64, from []models.TransactionStatus, to models.TransactionStatus) (bool, error) {
	states := make([]string, len(from))
	for i, f := range from {
		states[i] = string(f)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)`,
		string(to), txID, pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("advancing transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ForceStatus is the administrative override: it ignores the transition
// table and is audit-logged by the caller.
func (s *Store) ForceStatus(ctx context.Context, txID int64, to models.TransactionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = now() WHERE id = $2`,
		string(to), txID)
	if err != nil {
		return fmt.Errorf("forcing transaction status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrTransactionNotFound
	}
	return nil
}

// SwapPayouts exchanges the payouts of two transactions as one atomic unit.
// Both links are cleared first so the unique constraint on payout_id never
// trips in the intermediate state.
func (s *Store) SwapPayouts(ctx context.Context, txAID, txBID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var payoutA, payoutB sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT payout_id FROM transactions WHERE id = $1 FOR UPDATE`, txAID).Scan(&payoutA)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx,
			`SELECT payout_id FROM transactions WHERE id = $1 FOR UPDATE`, txBID).Scan(&payoutB)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrTransactionNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET payout_id = NULL, updated_at = now()
			WHERE id IN ($1, $2)`, txAID, txBID); err != nil {
			return fmt.Errorf("clearing links before swap: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payouts SET transaction_id = NULL
			WHERE transaction_id IN ($1, $2)`, txAID, txBID); err != nil {
			return fmt.Errorf("clearing payout back-references before swap: %w", err)
		}

		reassign := func(txID int64, payout sql.NullInt64) error {
			if !payout.Valid {
				return nil
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE transactions SET payout_id = $1, updated_at = now()
				WHERE id = $2`, payout.Int64, txID); err != nil {
				return fmt.Errorf("reassigning payout: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE payouts SET transaction_id = $1 WHERE id = $2`,
				txID, payout.Int64); err != nil {
				return fmt.Errorf("reassigning payout back-reference: %w", err)
			}
			return nil
		}
		if err := reassign(txBID, payoutA); err != nil {
			return err
		}
		return reassign(txAID, payoutB)
	})
}

// CountAdDependents counts transactions bound to an advertisement.
func (s *Store) CountAdDependents(ctx context.Context, adID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE advertisement_id = $1`, adID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting advertisement dependents: %w", err)
	}
	return n, nil
}
