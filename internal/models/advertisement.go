package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Advertisement is a posted sale offer. A placeholder row is created before
// the trading venue confirms the real listing; the sweeper rebinds
// transactions to the confirmed row and removes the placeholder.
type Advertisement struct {
	ID          int64           `json:"id" db:"id"`
	ExternalID  *string         `json:"external_id" db:"external_id"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Account     string          `json:"account" db:"account"`
	Placeholder bool            `json:"placeholder" db:"placeholder"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
