package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/p2psettle/backend/internal/audit"
	"github.com/p2psettle/backend/internal/config"
	"github.com/p2psettle/backend/internal/models"
	"github.com/p2psettle/backend/internal/parser"
)

var nonDigits = regexp.MustCompile(`\D`)

// MatchingEngine links parsed receipts to pending payouts. The selection
// pipeline is deterministic and explainable: exact amount first, then the
// recipient identity, then the link/order status. With more than one
// survivor the engine records an ambiguity and writes nothing; guessing
// wrong moves real money to the wrong obligation.
type MatchingEngine struct {
	store    ReconStore
	cfg      *config.ReconConfig
	rates    RateSource
	notifier SettlementNotifier
	audit    *audit.Logger
}

func NewMatchingEngine(store ReconStore, cfg *config.ReconConfig, rates RateSource, notifier SettlementNotifier) *MatchingEngine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &MatchingEngine{
		store:    store,
		cfg:      cfg,
		rates:    rates,
		notifier: notifier,
		audit:    audit.NewLogger(),
	}
}

// RunOnce attempts to link every unlinked parsed receipt. One receipt's
// failure never aborts the rest of the batch.
func (e *MatchingEngine) RunOnce(ctx context.Context) error {
	receipts, err := e.store.UnlinkedParsed(ctx)
	if err != nil {
		return fmt.Errorf("loading unlinked receipts: %w", err)
	}
	for i := range receipts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := e.LinkOne(ctx, &receipts[i])
		if err != nil {
			log.Printf("[MATCHER] receipt %s: %v", receipts[i].ID, err)
			e.audit.LogError(receipts[i].ID, err)
			continue
		}
		if result.Outcome == models.LinkLinked {
			log.Printf("[MATCHER] receipt %s linked to payout %d", receipts[i].ID, *result.PayoutID)
		}
	}
	return nil
}

// LinkOne runs the candidate pipeline for a single receipt.
func (e *MatchingEngine) LinkOne(ctx context.Context, receipt *models.Receipt) (*models.LinkResult, error) {
	if !receipt.Linkable() {
		return nil, models.ErrNotLinkable
	}

	if existing, err := e.store.PayoutForReceipt(ctx, receipt.ID); err != nil {
		return nil, fmt.Errorf("checking existing link: %w", err)
	} else if existing != nil {
		return &models.LinkResult{
			ReceiptID: receipt.ID,
			Outcome:   models.LinkAlreadyLinked,
			PayoutID:  &existing.ID,
		}, nil
	}

	candidates, err := e.candidates(ctx, receipt)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		// Transient: the payout record may not have arrived from the
		// gateway sync yet. The next sweep retries.
		return &models.LinkResult{
			ReceiptID: receipt.ID,
			Outcome:   models.LinkNoCandidate,
			Reason:    "no payout matched amount and recipient",
		}, nil
	case 1:
		return e.link(ctx, receipt, &candidates[0])
	default:
		ids := payoutIDs(candidates)
		if err := e.store.RecordAmbiguity(ctx, receipt.ID, ids); err != nil {
			return nil, fmt.Errorf("recording ambiguity: %w", err)
		}
		e.audit.LogAmbiguous(receipt.ID, ids)
		return &models.LinkResult{
			ReceiptID:  receipt.ID,
			Outcome:    models.LinkAmbiguous,
			Candidates: ids,
			Reason:     "multiple payouts survived all filters",
		}, nil
	}
}

// candidates applies the three filters of the selection pipeline.
func (e *MatchingEngine) candidates(ctx context.Context, receipt *models.Receipt) ([]models.Payout, error) {
	pending, err := e.store.CandidatePayouts(ctx, e.cfg.AwaitingStatuses)
	if err != nil {
		return nil, fmt.Errorf("loading candidate payouts: %w", err)
	}

	var survivors []models.Payout
	for _, payout := range pending {
		// Exact amount is the primary, non-negotiable key.
		if !payout.AmountIn(e.cfg.FiatCurrency).Equal(receipt.Amount) {
			continue
		}
		if !matchesIdentity(receipt, &payout) {
			continue
		}
		// An order-bound transaction proves settlement through the venue;
		// its payout is not claimable by a receipt.
		owner, err := e.store.TransactionForPayout(ctx, payout.ID)
		if err != nil {
			return nil, fmt.Errorf("loading payout owner: %w", err)
		}
		if owner != nil && owner.HasOrder() {
			continue
		}
		survivors = append(survivors, payout)
	}
	return survivors, nil
}

// matchesIdentity compares the receipt's recipient identifier with the
// payout destination. Destination formats are inconsistent (full number,
// last digits, formatted string), hence containment rather than equality.
func matchesIdentity(receipt *models.Receipt, payout *models.Payout) bool {
	walletDigits := nonDigits.ReplaceAllString(payout.Wallet, "")
	if receipt.RecipientPhone != "" {
		normalized := parser.NormalizePhone(receipt.RecipientPhone)
		return normalized != "" && strings.Contains(walletDigits, normalized)
	}
	if receipt.RecipientCard != "" {
		tail := parser.CardTail(receipt.RecipientCard)
		return tail != "" && strings.HasSuffix(walletDigits, tail)
	}
	return false
}

func (e *MatchingEngine) link(ctx context.Context, receipt *models.Receipt, payout *models.Payout) (*models.LinkResult, error) {
	claimed, err := e.store.LinkReceipt(ctx, payout.ID, receipt.ID)
	if err != nil {
		return nil, fmt.Errorf("claiming payout %d: %w", payout.ID, err)
	}
	if !claimed {
		// Another worker observed the same candidate and won the
		// conditional write.
		return &models.LinkResult{
			ReceiptID: receipt.ID,
			Outcome:   models.LinkAlreadyLinked,
			PayoutID:  &payout.ID,
			Reason:    "payout claimed concurrently",
		}, nil
	}

	var txID int64
	owner, err := e.store.TransactionForPayout(ctx, payout.ID)
	if err != nil {
		return nil, fmt.Errorf("loading owner after link: %w", err)
	}
	if owner != nil {
		txID = owner.ID
		if err := e.advanceToConfirmed(ctx, owner); err != nil {
			return nil, err
		}
	}
	e.audit.LogLink(receipt.ID, payout.ID, txID, "exact")

	return &models.LinkResult{
		ReceiptID: receipt.ID,
		Outcome:   models.LinkLinked,
		PayoutID:  &payout.ID,
	}, nil
}

// advanceToConfirmed moves the owning transaction to payment_confirmed and
// emits the settlement signal. The guarded update makes a replay a no-op.
func (e *MatchingEngine) advanceToConfirmed(ctx context.Context, tx *models.Transaction) error {
	advanced, err := e.store.AdvanceStatus(ctx, tx.ID,
		[]models.TransactionStatus{models.StatusWaitingPayment, models.StatusPaymentSent},
		models.StatusPaymentConfirmed)
	if err != nil {
		return fmt.Errorf("advancing transaction %d: %w", tx.ID, err)
	}
	if !advanced {
		return nil
	}
	tx.Status = models.StatusPaymentConfirmed
	if err := e.notifier.PaymentConfirmed(ctx, tx); err != nil {
		log.Printf("[MATCHER] settlement signal for transaction %d failed: %v", tx.ID, err)
	}
	return nil
}

func payoutIDs(payouts []models.Payout) []int64 {
	ids := make([]int64, len(payouts))
	for i, p := range payouts {
		ids[i] = p.ID
	}
	return ids
}

