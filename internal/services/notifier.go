package services

import (
	"context"
	"log"

	"github.com/p2psettle/backend/internal/models"
)

// SettlementNotifier receives the outbound signal when a transaction
// reaches payment_confirmed. The asset-release collaborator implements
// this; the core only signals, never releases.
type SettlementNotifier interface {
	PaymentConfirmed(ctx context.Context, tx *models.Transaction) error
}

// LogNotifier is the default notifier when no release collaborator is
// wired in.
type LogNotifier struct{}

func (LogNotifier) PaymentConfirmed(_ context.Context, tx *models.Transaction) error {
	log.Printf("[SETTLEMENT] transaction %d reached payment_confirmed", tx.ID)
	return nil
}
