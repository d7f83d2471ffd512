package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/p2psettle/backend/internal/models"
)

const adColumns = `id, external_id, quantity, account, placeholder, created_at`

func scanAd(row interface{ Scan(...any) error }) (*models.Advertisement, error) {
	var a models.Advertisement
	var externalID sql.NullString
	err := row.Scan(&a.ID, &externalID, &a.Quantity, &a.Account, &a.Placeholder, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if externalID.Valid {
		a.ExternalID = &externalID.String
	}
	return &a, nil
}

// AdByID fetches one advertisement.
func (s *Store) AdByID(ctx context.Context, id int64) (*models.Advertisement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+adColumns+` FROM advertisements WHERE id = $1`, id)
	a, err := scanAd(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAdNotFound
	}
	return a, err
}

// PlaceholderAds lists provisional advertisements still awaiting a
// confirmed venue listing.
func (s *Store) PlaceholderAds(ctx context.Context) ([]models.Advertisement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+adColumns+` FROM advertisements WHERE placeholder ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing placeholder advertisements: %w", err)
	}
	defer rows.Close()

	var ads []models.Advertisement
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, *a)
	}
	return ads, rows.Err()
}

// FindRealAd looks for the confirmed advertisement a placeholder stands in
// for: same quantity, same account, created within the merge window.
func (s *Store) FindRealAd(ctx context.Context, placeholder *models.Advertisement, window time.Duration) (*models.Advertisement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+adColumns+` FROM advertisements
		WHERE NOT placeholder
		  AND quantity = $1
		  AND account = $2
		  AND created_at BETWEEN $3 AND $4
		ORDER BY created_at LIMIT 1`,
		placeholder.Quantity, placeholder.Account,
		placeholder.CreatedAt.Add(-window), placeholder.CreatedAt.Add(window))
	a, err := scanAd(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// MergeAd rebinds every transaction from the placeholder to the real
// advertisement and deletes the placeholder, all in one transaction. The
// recount after the rebind catches transactions bound to the placeholder
// concurrently, after the rebind statement took its snapshot; any late
// dependent aborts the delete.
func (s *Store) MergeAd(ctx context.Context, placeholderID, realID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET advertisement_id = $1, updated_at = now()
			WHERE advertisement_id = $2`,
			realID, placeholderID); err != nil {
			return fmt.Errorf("rebinding transactions: %w", err)
		}
		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transactions WHERE advertisement_id = $1`,
			placeholderID).Scan(&remaining); err != nil {
			return fmt.Errorf("checking placeholder dependents: %w", err)
		}
		if remaining > 0 {
			return models.ErrHasDependents
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM advertisements WHERE id = $1 AND placeholder`,
			placeholderID); err != nil {
			return fmt.Errorf("deleting placeholder: %w", err)
		}
		return nil
	})
}
