package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParseStatus is the terminal outcome of a parse attempt.
type ParseStatus string

const (
	ParseOK     ParseStatus = "ok"
	ParseFailed ParseStatus = "failed"
)

// Transfer type tags. Phone transfers match on a different key than card transfers.
const (
	TransferByPhone = "by_phone"
	TransferByCard  = "by_card"
)

// Receipt is a record derived from a bank payment-confirmation document.
// Fields are written once by the parser; the raw extracted text is kept
// forever so layout drift can be diagnosed without re-fetching the source.
type Receipt struct {
	ID             string          `json:"id" db:"id"`
	ContentHash    string          `json:"content_hash" db:"content_hash"`
	FileName       string          `json:"file_name" db:"file_name"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Commission     decimal.Decimal `json:"commission" db:"commission"`
	TransferredAt  *time.Time      `json:"transferred_at" db:"transferred_at"`
	SenderName     string          `json:"sender_name" db:"sender_name"`
	RecipientName  string          `json:"recipient_name" db:"recipient_name"`
	RecipientPhone string          `json:"recipient_phone" db:"recipient_phone"`
	RecipientCard  string          `json:"recipient_card" db:"recipient_card"`
	RecipientBank  string          `json:"recipient_bank" db:"recipient_bank"`
	TransferType   string          `json:"transfer_type" db:"transfer_type"`
	OperationID    string          `json:"operation_id" db:"operation_id"`
	BankLabel      string          `json:"bank_label" db:"bank_label"`
	Layout         string          `json:"layout" db:"layout"`
	RawText        string          `json:"raw_text" db:"raw_text"`
	ParseStatus    ParseStatus     `json:"parse_status" db:"parse_status"`
	FailReason     string          `json:"fail_reason,omitempty" db:"fail_reason"`
	FailLine       int             `json:"fail_line,omitempty" db:"fail_line"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Linkable reports whether the matching engine may consider this receipt.
func (r *Receipt) Linkable() bool {
	return r.ParseStatus == ParseOK
}
