package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/p2psettle/backend/internal/audit"
	"github.com/p2psettle/backend/internal/config"
	"github.com/p2psettle/backend/internal/models"
)

// Sweeper is the periodic auditor. It scans the whole transaction/payout/
// receipt universe for the four anomaly classes and applies the idempotent
// repair primitives. Amount mismatches are reported, never auto-corrected.
type Sweeper struct {
	store  ReconStore
	cfg    *config.ReconConfig
	engine *MatchingEngine
	audit  *audit.Logger
}

func NewSweeper(store ReconStore, cfg *config.ReconConfig, engine *MatchingEngine) *Sweeper {
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		engine: engine,
		audit:  audit.NewLogger(),
	}
}

// RunOnce executes one full sweep. Failure on one record never aborts the
// rest of the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (*models.SweepReport, error) {
	report := &models.SweepReport{StartedAt: time.Now()}

	if err := s.sweepDanglingRefs(ctx, report); err != nil {
		return nil, err
	}
	if err := s.sweepAmountBasedPass(ctx, report); err != nil {
		return nil, err
	}
	if err := s.sweepAmountMismatches(ctx, report); err != nil {
		return nil, err
	}
	if err := s.sweepPlaceholderAds(ctx, report); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now()
	for _, a := range report.Anomalies {
		if a.Repaired {
			report.Repaired++
		} else {
			report.Reported++
		}
	}
	log.Printf("[SWEEPER] pass done: %d anomalies, %d repaired, %d reported",
		len(report.Anomalies), report.Repaired, report.Reported)
	return report, nil
}

// sweepDanglingRefs clears transaction references to payouts that no
// longer resolve, then tries the amount-based match for the cleared
// transaction.
func (s *Sweeper) sweepDanglingRefs(ctx context.Context, report *models.SweepReport) error {
	txs, err := s.store.TransactionsWithPayout(ctx)
	if err != nil {
		return fmt.Errorf("scanning transactions: %w", err)
	}
	report.TransactionsScanned += len(txs)

	for i := range txs {
		tx := txs[i]
		_, err := s.store.PayoutByID(ctx, *tx.PayoutID)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrPayoutNotFound) {
			log.Printf("[SWEEPER] transaction %d: %v", tx.ID, err)
			continue
		}

		anomaly := models.Anomaly{
			Type:          models.AnomalyDanglingPayoutRef,
			TransactionID: tx.ID,
			PayoutID:      *tx.PayoutID,
		}
		if err := s.store.ClearPayoutRef(ctx, tx.ID); err != nil {
			anomaly.Details = fmt.Sprintf("repair failed: %v", err)
			report.Anomalies = append(report.Anomalies, anomaly)
			continue
		}
		s.audit.LogUnlink(*tx.PayoutID, "dangling payout reference")
		tx.PayoutID = nil

		result, err := s.engine.MatchByAdvertisedAmount(ctx, &tx)
		if err != nil {
			anomaly.Details = fmt.Sprintf("reference cleared; amount match failed: %v", err)
		} else if result.Outcome == models.LinkLinked {
			anomaly.Details = fmt.Sprintf("reference cleared; relinked to payout %d", *result.PayoutID)
		} else {
			anomaly.Details = fmt.Sprintf("reference cleared; amount match: %s", result.Outcome)
		}
		anomaly.Repaired = true
		report.Anomalies = append(report.Anomalies, anomaly)
	}
	return nil
}

// sweepAmountBasedPass gives payout-less transactions a chance to claim an
// orphaned payout, then reports payouts still orphaned. Orphans are never
// auto-discarded.
func (s *Sweeper) sweepAmountBasedPass(ctx context.Context, report *models.SweepReport) error {
	txs, err := s.store.PayoutlessTransactions(ctx)
	if err != nil {
		return fmt.Errorf("scanning payoutless transactions: %w", err)
	}
	for i := range txs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := s.engine.MatchByAdvertisedAmount(ctx, &txs[i])
		if err != nil {
			log.Printf("[SWEEPER] amount match for transaction %d: %v", txs[i].ID, err)
			continue
		}
		if result.Outcome == models.LinkLinked {
			report.Anomalies = append(report.Anomalies, models.Anomaly{
				Type:          models.AnomalyOrphanedPayout,
				TransactionID: txs[i].ID,
				PayoutID:      *result.PayoutID,
				Repaired:      true,
				Details:       "orphaned payout adopted via amount match",
			})
		}
	}

	orphans, err := s.store.OrphanedPayouts(ctx, s.cfg.AwaitingStatuses)
	if err != nil {
		return fmt.Errorf("scanning orphaned payouts: %w", err)
	}
	report.PayoutsScanned += len(orphans)
	for _, payout := range orphans {
		report.Anomalies = append(report.Anomalies, models.Anomaly{
			Type:     models.AnomalyOrphanedPayout,
			PayoutID: payout.ID,
			Details:  "awaiting payout with no owning transaction",
		})
	}
	return nil
}

// sweepAmountMismatches reports transactions whose linked payout disagrees
// with the advertisement-implied amount. A mismatch indicates a wrong
// link; fixing it needs the swap primitive and an operator.
func (s *Sweeper) sweepAmountMismatches(ctx context.Context, report *models.SweepReport) error {
	txs, err := s.store.TransactionsWithPayout(ctx)
	if err != nil {
		return fmt.Errorf("scanning transactions: %w", err)
	}
	rate := s.engine.rates.Rate(ctx)

	for _, tx := range txs {
		if !tx.HasOrder() {
			continue
		}
		payout, err := s.store.PayoutByID(ctx, *tx.PayoutID)
		if err != nil {
			continue // dangling refs are handled by their own pass
		}
		ad, err := s.store.AdByID(ctx, tx.AdvertisementID)
		if err != nil {
			continue
		}
		quantity := tx.Amount
		if quantity.IsZero() {
			quantity = ad.Quantity
		}
		expected := quantity.Mul(rate)
		diff := payout.AmountIn(s.cfg.FiatCurrency).Sub(expected).Abs()
		if diff.GreaterThanOrEqual(s.cfg.AmountTolerance) {
			report.Anomalies = append(report.Anomalies, models.Anomaly{
				Type:          models.AnomalyAmountMismatch,
				TransactionID: tx.ID,
				PayoutID:      payout.ID,
				Details: fmt.Sprintf("payout %s vs expected %s exceeds tolerance %s",
					payout.AmountIn(s.cfg.FiatCurrency), expected, s.cfg.AmountTolerance),
			})
		}
	}
	return nil
}

// sweepPlaceholderAds rebinds transactions from placeholder advertisements
// to the confirmed listing and removes the placeholder.
func (s *Sweeper) sweepPlaceholderAds(ctx context.Context, report *models.SweepReport) error {
	placeholders, err := s.store.PlaceholderAds(ctx)
	if err != nil {
		return fmt.Errorf("scanning placeholder advertisements: %w", err)
	}
	for i := range placeholders {
		placeholder := placeholders[i]
		real, err := s.store.FindRealAd(ctx, &placeholder, s.cfg.AdMergeWindow)
		if err != nil {
			log.Printf("[SWEEPER] placeholder %d: %v", placeholder.ID, err)
			continue
		}
		if real == nil {
			continue
		}
		dependents, err := s.store.CountAdDependents(ctx, placeholder.ID)
		if err != nil {
			log.Printf("[SWEEPER] counting dependents of %d: %v", placeholder.ID, err)
			continue
		}
		anomaly := models.Anomaly{
			Type:            models.AnomalyPlaceholderAd,
			AdvertisementID: placeholder.ID,
		}
		if err := s.store.MergeAd(ctx, placeholder.ID, real.ID); err != nil {
			anomaly.Details = fmt.Sprintf("merge into %d refused with %d dependents: %v", real.ID, dependents, err)
		} else {
			anomaly.Repaired = true
			anomaly.Details = fmt.Sprintf("merged into advertisement %d, %d transactions rebound", real.ID, dependents)
			s.audit.LogMerge(placeholder.ID, real.ID)
		}
		report.Anomalies = append(report.Anomalies, anomaly)
	}
	return nil
}

// RepairLink is the operator primitive behind ambiguity resolution: it
// links a specific receipt to a specific payout. Re-running a completed
// repair is a no-op.
func (s *Sweeper) RepairLink(ctx context.Context, receiptID string, payoutID int64) error {
	payout, err := s.store.PayoutByID(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.LinkedReceiptID != nil {
		if *payout.LinkedReceiptID == receiptID {
			return nil
		}
		return models.ErrAlreadyLinked
	}
	receipt, err := s.store.ReceiptByID(ctx, receiptID)
	if err != nil {
		return err
	}
	if !receipt.Linkable() {
		return models.ErrNotLinkable
	}

	claimed, err := s.store.LinkReceipt(ctx, payoutID, receiptID)
	if err != nil {
		return err
	}
	if !claimed {
		return models.ErrAlreadyLinked
	}

	var txID int64
	if owner, err := s.store.TransactionForPayout(ctx, payoutID); err == nil && owner != nil {
		txID = owner.ID
		if err := s.engine.advanceToConfirmed(ctx, owner); err != nil {
			log.Printf("[SWEEPER] advancing transaction %d after repair link: %v", owner.ID, err)
		}
	}
	if err := s.store.ResolveAmbiguity(ctx, receiptID); err != nil {
		log.Printf("[SWEEPER] resolving ambiguity for receipt %s: %v", receiptID, err)
	}
	s.audit.LogLink(receiptID, payoutID, txID, "operator")
	return nil
}

// RepairUnlink clears a payout's receipt link. Unlinking an unlinked
// payout is a no-op.
func (s *Sweeper) RepairUnlink(ctx context.Context, payoutID int64) error {
	payout, err := s.store.PayoutByID(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.LinkedReceiptID == nil {
		return nil
	}
	if err := s.store.UnlinkReceipt(ctx, payoutID); err != nil {
		return err
	}
	s.audit.LogUnlink(payoutID, "operator unlink")
	return nil
}

// RepairSwap exchanges the payouts of two transactions atomically. The
// crossed-link state that makes a swap necessary is verified first, so
// replaying a swap that already succeeded writes nothing instead of
// reverting the links.
func (s *Sweeper) RepairSwap(ctx context.Context, txAID, txBID int64) error {
	txA, err := s.store.TransactionByID(ctx, txAID)
	if err != nil {
		return err
	}
	txB, err := s.store.TransactionByID(ctx, txBID)
	if err != nil {
		return err
	}
	needed, err := s.swapNeeded(ctx, txA, txB)
	if err != nil {
		return err
	}
	if !needed {
		log.Printf("[SWEEPER] swap of transactions %d and %d skipped, links already consistent", txAID, txBID)
		return nil
	}
	var payoutA, payoutB int64
	if txA.PayoutID != nil {
		payoutA = *txA.PayoutID
	}
	if txB.PayoutID != nil {
		payoutB = *txB.PayoutID
	}
	if err := s.store.SwapPayouts(ctx, txAID, txBID); err != nil {
		return err
	}
	s.audit.LogSwap(txAID, txBID, payoutA, payoutB)
	return nil
}

// swapNeeded verifies the state the swap primitive exists to fix: exactly
// one of the two transactions is order-bound, its payout is absent or
// outside tolerance of the advertisement-implied amount, and the other
// transaction holds a payout that fits the order-bound side.
func (s *Sweeper) swapNeeded(ctx context.Context, a, b *models.Transaction) (bool, error) {
	if a.HasOrder() == b.HasOrder() {
		return false, nil
	}
	orderTx, freeTx := a, b
	if b.HasOrder() {
		orderTx, freeTx = b, a
	}
	if freeTx.PayoutID == nil {
		return false, nil
	}

	expected, err := s.expectedFiat(ctx, orderTx)
	if err != nil {
		return false, err
	}
	if orderTx.PayoutID != nil {
		held, err := s.store.PayoutByID(ctx, *orderTx.PayoutID)
		if err != nil && !errors.Is(err, models.ErrPayoutNotFound) {
			return false, err
		}
		if err == nil && held.AmountIn(s.cfg.FiatCurrency).Sub(expected).Abs().LessThan(s.cfg.AmountTolerance) {
			// The order already holds a fitting payout.
			return false, nil
		}
	}
	candidate, err := s.store.PayoutByID(ctx, *freeTx.PayoutID)
	if err != nil {
		return false, err
	}
	return candidate.AmountIn(s.cfg.FiatCurrency).Sub(expected).Abs().LessThan(s.cfg.AmountTolerance), nil
}

// expectedFiat converts a transaction's crypto quantity to fiat with the
// injected rate, falling back to the advertisement quantity.
func (s *Sweeper) expectedFiat(ctx context.Context, tx *models.Transaction) (decimal.Decimal, error) {
	ad, err := s.store.AdByID(ctx, tx.AdvertisementID)
	if err != nil {
		return decimal.Zero, err
	}
	quantity := tx.Amount
	if quantity.IsZero() {
		quantity = ad.Quantity
	}
	return quantity.Mul(s.engine.rates.Rate(ctx)), nil
}

// RepairForceStatus is the administrative override of the settlement state
// machine. It bypasses the transition table, so every use is audit-logged
// with the state it replaced.
func (s *Sweeper) RepairForceStatus(ctx context.Context, txID int64, to models.TransactionStatus) error {
	if !models.KnownStatus(to) {
		return fmt.Errorf("unknown transaction status %q", to)
	}
	tx, err := s.store.TransactionByID(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status == to {
		return nil
	}
	if err := s.store.ForceStatus(ctx, txID, to); err != nil {
		return err
	}
	s.audit.LogForceStatus(txID, string(tx.Status), string(to))
	return nil
}

// RepairMerge folds a placeholder advertisement into the confirmed one.
func (s *Sweeper) RepairMerge(ctx context.Context, placeholderID, realID int64) error {
	placeholder, err := s.store.AdByID(ctx, placeholderID)
	if err != nil {
		if errors.Is(err, models.ErrAdNotFound) {
			// Already merged by a previous run.
			return nil
		}
		return err
	}
	if !placeholder.Placeholder {
		return fmt.Errorf("advertisement %d is not a placeholder", placeholderID)
	}
	real, err := s.store.AdByID(ctx, realID)
	if err != nil {
		return err
	}
	if real.Placeholder {
		return fmt.Errorf("advertisement %d is itself a placeholder", realID)
	}
	if err := s.store.MergeAd(ctx, placeholderID, realID); err != nil {
		return err
	}
	s.audit.LogMerge(placeholderID, realID)
	return nil
}
