package services

import (
	"context"
	"time"

	"github.com/p2psettle/backend/internal/models"
)

// ReconStore is the slice of the persistence layer the reconciliation
// services depend on. *store.Store implements it; tests use an in-memory
// fake.
type ReconStore interface {
	// Receipts
	SaveReceipt(ctx context.Context, r *models.Receipt) error
	ReceiptByID(ctx context.Context, id string) (*models.Receipt, error)
	ReceiptByHash(ctx context.Context, hash string) (*models.Receipt, error)
	UnlinkedParsed(ctx context.Context) ([]models.Receipt, error)
	Quarantined(ctx context.Context) ([]models.Receipt, error)
	RecordAmbiguity(ctx context.Context, receiptID string, candidates []int64) error
	OpenAmbiguities(ctx context.Context) ([]models.Ambiguity, error)
	ResolveAmbiguity(ctx context.Context, receiptID string) error

	// Payouts
	UpsertPayout(ctx context.Context, p *models.Payout) error
	PayoutByID(ctx context.Context, id int64) (*models.Payout, error)
	PayoutForReceipt(ctx context.Context, receiptID string) (*models.Payout, error)
	CandidatePayouts(ctx context.Context, statuses []int) ([]models.Payout, error)
	OrphanedPayouts(ctx context.Context, statuses []int) ([]models.Payout, error)
	LinkReceipt(ctx context.Context, payoutID int64, receiptID string) (bool, error)
	UnlinkReceipt(ctx context.Context, payoutID int64) error

	// Transactions
	TransactionByID(ctx context.Context, id int64) (*models.Transaction, error)
	TransactionForPayout(ctx context.Context, payoutID int64) (*models.Transaction, error)
	TransactionsWithPayout(ctx context.Context) ([]models.Transaction, error)
	PayoutlessTransactions(ctx context.Context) ([]models.Transaction, error)
	ClearPayoutRef(ctx context.Context, txID int64) error
	AssignPayout(ctx context.Context, txID, payoutID int64) (bool, error)
	AdvanceStatus(ctx context.Context, txID int64, from []models.TransactionStatus, to models.TransactionStatus) (bool, error)
	ForceStatus(ctx context.Context, txID int64, to models.TransactionStatus) error
	SwapPayouts(ctx context.Context, txAID, txBID int64) error

	// Advertisements
	AdByID(ctx context.Context, id int64) (*models.Advertisement, error)
	PlaceholderAds(ctx context.Context) ([]models.Advertisement, error)
	FindRealAd(ctx context.Context, placeholder *models.Advertisement, window time.Duration) (*models.Advertisement, error)
	MergeAd(ctx context.Context, placeholderID, realID int64) error
	CountAdDependents(ctx context.Context, adID int64) (int, error)
}
