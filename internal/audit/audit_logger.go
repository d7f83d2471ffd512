package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is a structured record of a money-moving decision. Every link,
// unlink, swap and merge goes through here so an operator can reconstruct
// why a payout ended up attached to a receipt.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	ReceiptID     string    `json:"receipt_id,omitempty"`
	PayoutID      int64     `json:"payout_id,omitempty"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	Status        string    `json:"status"`
	Confidence    string    `json:"confidence,omitempty"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogLink(receiptID string, payoutID, transactionID int64, confidence string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "LINK",
		ReceiptID:     receiptID,
		PayoutID:      payoutID,
		TransactionID: transactionID,
		Status:        "SUCCESS",
		Confidence:    confidence,
	})
}

func (a *Logger) LogUnlink(payoutID int64, reason string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "UNLINK",
		PayoutID:  payoutID,
		Status:    "SUCCESS",
		Details:   map[string]string{"reason": reason},
	})
}

func (a *Logger) LogSwap(txA, txB int64, payoutA, payoutB int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "SWAP",
		Status:    "SUCCESS",
		Details: map[string]int64{
			"transaction_a": txA,
			"transaction_b": txB,
			"payout_a":      payoutA,
			"payout_b":      payoutB,
		},
	})
}

func (a *Logger) LogMerge(placeholderID, realID int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "MERGE",
		Status:    "SUCCESS",
		Details: map[string]int64{
			"placeholder_advertisement": placeholderID,
			"real_advertisement":        realID,
		},
	})
}

func (a *Logger) LogForceStatus(transactionID int64, from, to string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "FORCE_STATUS",
		TransactionID: transactionID,
		Status:        "SUCCESS",
		Details:       map[string]string{"from": from, "to": to},
	})
}

func (a *Logger) LogAmbiguous(receiptID string, candidates []int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "AMBIGUOUS",
		ReceiptID: receiptID,
		Status:    "PENDING_OPERATOR",
		Details:   map[string][]int64{"candidates": candidates},
	})
}

func (a *Logger) LogQuarantine(receiptID, fileName, reason string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "QUARANTINE",
		ReceiptID: receiptID,
		Status:    "FAILED",
		Details:   map[string]string{"file_name": fileName, "reason": reason},
	})
}

func (a *Logger) LogError(receiptID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		ReceiptID: receiptID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
