package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout is a fiat obligation tracked against the upstream payment gateway.
// Status codes come from the gateway and are treated as opaque; the engine
// only checks membership in the configured awaiting/terminal sets.
type Payout struct {
	ID              int64                      `json:"id" db:"id"`
	GatewayID       string                     `json:"gateway_id" db:"gateway_id" validate:"required"`
	Status          int                        `json:"status" db:"status"`
	Amounts         map[string]decimal.Decimal `json:"amounts" db:"amounts" validate:"required"`
	Wallet          string                     `json:"wallet" db:"wallet"`
	LinkedReceiptID *string                    `json:"linked_receipt_id" db:"linked_receipt_id"`
	TransactionID   *int64                     `json:"transaction_id" db:"transaction_id"`
	CreatedAt       time.Time                  `json:"created_at" db:"created_at"`
}

// AmountIn returns the payout amount in the given fiat currency, or zero
// when the gateway did not report that currency.
func (p *Payout) AmountIn(currency string) decimal.Decimal {
	if amt, ok := p.Amounts[currency]; ok {
		return amt
	}
	return decimal.Zero
}

// StatusIn reports whether the payout status is a member of the given set.
func (p *Payout) StatusIn(statuses []int) bool {
	for _, s := range statuses {
		if p.Status == s {
			return true
		}
	}
	return false
}
