package models

import "errors"

// Sentinel errors for the reconciliation core. Expected match outcomes
// (ambiguous, no candidate) are LinkResult variants, not errors.
var (
	ErrReceiptNotFound     = errors.New("receipt not found")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAdNotFound          = errors.New("advertisement not found")
	ErrDuplicateReceipt    = errors.New("receipt with identical content hash already exists")
	ErrNotLinkable         = errors.New("receipt failed parsing and is not eligible for linking")
	ErrAlreadyLinked       = errors.New("payout already linked")
	ErrInvalidTransition   = errors.New("invalid transaction status transition")
	ErrHasDependents       = errors.New("advertisement still has dependent transactions")
	ErrExternalDependency  = errors.New("external dependency unavailable")
)
