package models

import "time"

// LinkOutcome is the result class of a single match attempt.
type LinkOutcome string

const (
	LinkLinked        LinkOutcome = "linked"
	LinkAmbiguous     LinkOutcome = "ambiguous"
	LinkNoCandidate   LinkOutcome = "no_candidate"
	LinkAlreadyLinked LinkOutcome = "already_linked"
)

// LinkResult reports what the matching engine did with one receipt.
// Candidates is populated on the ambiguous outcome so an operator can
// resolve it; the engine never guesses between them.
type LinkResult struct {
	ReceiptID  string      `json:"receipt_id"`
	Outcome    LinkOutcome `json:"outcome"`
	PayoutID   *int64      `json:"payout_id,omitempty"`
	Candidates []int64     `json:"candidates,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// Ambiguity is a persisted ambiguous match awaiting operator resolution.
type Ambiguity struct {
	ID         int64     `json:"id" db:"id"`
	ReceiptID  string    `json:"receipt_id" db:"receipt_id"`
	Candidates []int64   `json:"candidates" db:"candidates"`
	Resolved   bool      `json:"resolved" db:"resolved"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AnomalyType classifies an integrity violation found by the sweeper.
type AnomalyType string

const (
	AnomalyDanglingPayoutRef AnomalyType = "dangling_payout_ref"
	AnomalyOrphanedPayout    AnomalyType = "orphaned_payout"
	AnomalyAmountMismatch    AnomalyType = "amount_mismatch"
	AnomalyPlaceholderAd     AnomalyType = "placeholder_advertisement"
)

// Anomaly is one detected integrity violation and what was done about it.
type Anomaly struct {
	Type            AnomalyType `json:"type"`
	TransactionID   int64       `json:"transaction_id,omitempty"`
	PayoutID        int64       `json:"payout_id,omitempty"`
	AdvertisementID int64       `json:"advertisement_id,omitempty"`
	Repaired        bool        `json:"repaired"`
	Details         string      `json:"details,omitempty"`
}

// SweepReport summarises one sweeper pass.
type SweepReport struct {
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	TransactionsScanned int       `json:"transactions_scanned"`
	PayoutsScanned      int       `json:"payouts_scanned"`
	Anomalies           []Anomaly `json:"anomalies"`
	Repaired            int       `json:"repaired"`
	Reported            int       `json:"reported"`
}
