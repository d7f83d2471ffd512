package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Store is the transactional persistence layer shared by the matching
// engine and the sweeper. Every link, unlink and swap is a conditional
// write so two workers observing the same candidate cannot both claim it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	content_hash TEXT UNIQUE NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	amount NUMERIC NOT NULL DEFAULT 0,
	commission NUMERIC NOT NULL DEFAULT 0,
	transferred_at TIMESTAMPTZ,
	sender_name TEXT NOT NULL DEFAULT '',
	recipient_name TEXT NOT NULL DEFAULT '',
	recipient_phone TEXT NOT NULL DEFAULT '',
	recipient_card TEXT NOT NULL DEFAULT '',
	recipient_bank TEXT NOT NULL DEFAULT '',
	transfer_type TEXT NOT NULL DEFAULT '',
	operation_id TEXT NOT NULL DEFAULT '',
	bank_label TEXT NOT NULL DEFAULT '',
	layout TEXT NOT NULL DEFAULT '',
	raw_text TEXT NOT NULL DEFAULT '',
	parse_status TEXT NOT NULL,
	fail_reason TEXT NOT NULL DEFAULT '',
	fail_line INT NOT NULL DEFAULT -1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payouts (
	id BIGSERIAL PRIMARY KEY,
	gateway_id TEXT UNIQUE NOT NULL,
	status INT NOT NULL,
	amounts JSONB NOT NULL DEFAULT '{}',
	wallet TEXT NOT NULL DEFAULT '',
	linked_receipt_id TEXT UNIQUE REFERENCES receipts(id),
	transaction_id BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS advertisements (
	id BIGSERIAL PRIMARY KEY,
	external_id TEXT,
	quantity NUMERIC NOT NULL DEFAULT 0,
	account TEXT NOT NULL DEFAULT '',
	placeholder BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	id BIGSERIAL PRIMARY KEY,
	order_id TEXT,
	advertisement_id BIGINT NOT NULL REFERENCES advertisements(id),
	payout_id BIGINT UNIQUE,
	status TEXT NOT NULL DEFAULT 'pending',
	chat_step INT NOT NULL DEFAULT 0,
	amount NUMERIC NOT NULL DEFAULT 0,
	counterparty_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ambiguities (
	id BIGSERIAL PRIMARY KEY,
	receipt_id TEXT NOT NULL REFERENCES receipts(id),
	candidates BIGINT[] NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ambiguities_open_idx
	ON ambiguities (receipt_id) WHERE NOT resolved;
`

// EnsureSchema creates the reconciliation tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
