package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the settlement state of a trade.
type TransactionStatus string

const (
	StatusPending          TransactionStatus = "pending"
	StatusChatStarted      TransactionStatus = "chat_started"
	StatusWaitingPayment   TransactionStatus = "waiting_payment"
	StatusPaymentSent      TransactionStatus = "payment_sent"
	StatusPaymentConfirmed TransactionStatus = "payment_confirmed"
	StatusCompleted        TransactionStatus = "completed"
	StatusAppeal           TransactionStatus = "appeal"
	StatusCancelled        TransactionStatus = "cancelled"
)

// transitions is the forward edge set of the settlement state machine.
// appeal is reachable from any non-terminal state; completed and cancelled
// are terminal.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:          {StatusChatStarted, StatusAppeal, StatusCancelled},
	StatusChatStarted:      {StatusWaitingPayment, StatusAppeal, StatusCancelled},
	StatusWaitingPayment:   {StatusPaymentSent, StatusPaymentConfirmed, StatusAppeal, StatusCancelled},
	StatusPaymentSent:      {StatusPaymentConfirmed, StatusAppeal, StatusCancelled},
	StatusPaymentConfirmed: {StatusCompleted, StatusAppeal, StatusCancelled},
	StatusAppeal:           {StatusCompleted, StatusCancelled},
}

// KnownStatus reports whether s is one of the defined settlement states.
func KnownStatus(s TransactionStatus) bool {
	switch s {
	case StatusPending, StatusChatStarted, StatusWaitingPayment, StatusPaymentSent,
		StatusPaymentConfirmed, StatusCompleted, StatusAppeal, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the state machine allows s -> to.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transaction is the aggregate root of a trade: an advertisement, an
// optional payout obligation and the settlement state.
type Transaction struct {
	ID               int64             `json:"id" db:"id"`
	OrderID          *string           `json:"order_id" db:"order_id"`
	AdvertisementID  int64             `json:"advertisement_id" db:"advertisement_id"`
	PayoutID         *int64            `json:"payout_id" db:"payout_id"`
	Status           TransactionStatus `json:"status" db:"status"`
	ChatStep         int               `json:"chat_step" db:"chat_step"`
	Amount           decimal.Decimal   `json:"amount" db:"amount"`
	CounterpartyName string            `json:"counterparty_name" db:"counterparty_name"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// HasOrder reports whether the trading venue has assigned an order.
func (t *Transaction) HasOrder() bool {
	return t.OrderID != nil && *t.OrderID != ""
}
