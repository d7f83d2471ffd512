package services

import (
	"context"
	"fmt"
	"log"

	"github.com/p2psettle/backend/internal/models"
)

// MatchByAdvertisedAmount is the lower-confidence fallback used when no
// payout could be compared against a receipt: it converts the
// transaction's crypto quantity to fiat with the approximate injected rate
// and accepts an orphaned payout within the configured absolute tolerance.
// Logged distinctly from exact-amount matches.
func (e *MatchingEngine) MatchByAdvertisedAmount(ctx context.Context, tx *models.Transaction) (*models.LinkResult, error) {
	if tx.PayoutID != nil {
		return &models.LinkResult{Outcome: models.LinkAlreadyLinked, PayoutID: tx.PayoutID}, nil
	}

	ad, err := e.store.AdByID(ctx, tx.AdvertisementID)
	if err != nil {
		return nil, fmt.Errorf("loading advertisement %d: %w", tx.AdvertisementID, err)
	}

	quantity := tx.Amount
	if quantity.IsZero() {
		quantity = ad.Quantity
	}
	expected := quantity.Mul(e.rates.Rate(ctx))

	orphans, err := e.store.OrphanedPayouts(ctx, e.cfg.AwaitingStatuses)
	if err != nil {
		return nil, fmt.Errorf("loading orphaned payouts: %w", err)
	}

	var survivors []models.Payout
	for _, payout := range orphans {
		diff := payout.AmountIn(e.cfg.FiatCurrency).Sub(expected).Abs()
		// Strictly inside the tolerance: a difference of exactly the
		// tolerance is refused and reported.
		if diff.LessThan(e.cfg.AmountTolerance) {
			survivors = append(survivors, payout)
		}
	}

	switch len(survivors) {
	case 0:
		return &models.LinkResult{
			Outcome: models.LinkNoCandidate,
			Reason:  fmt.Sprintf("no orphaned payout within %s of %s", e.cfg.AmountTolerance, expected),
		}, nil
	case 1:
		payout := survivors[0]
		assigned, err := e.store.AssignPayout(ctx, tx.ID, payout.ID)
		if err != nil {
			return nil, fmt.Errorf("assigning payout %d: %w", payout.ID, err)
		}
		if !assigned {
			return &models.LinkResult{
				Outcome:  models.LinkAlreadyLinked,
				PayoutID: &payout.ID,
				Reason:   "payout or transaction claimed concurrently",
			}, nil
		}
		log.Printf("[AMOUNT-MATCH] transaction %d <- payout %d (expected %s, payout %s)",
			tx.ID, payout.ID, expected, payout.AmountIn(e.cfg.FiatCurrency))
		e.audit.LogLink("", payout.ID, tx.ID, "amount")
		return &models.LinkResult{Outcome: models.LinkLinked, PayoutID: &payout.ID}, nil
	default:
		ids := payoutIDs(survivors)
		log.Printf("[AMOUNT-MATCH] transaction %d ambiguous between payouts %v", tx.ID, ids)
		return &models.LinkResult{
			Outcome:    models.LinkAmbiguous,
			Candidates: ids,
			Reason:     "multiple orphaned payouts within tolerance",
		}, nil
	}
}
