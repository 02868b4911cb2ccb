package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		hash TEXT PRIMARY KEY,
		block_number BIGINT NOT NULL,
		block_hash TEXT NOT NULL,
		block_timestamp BIGINT NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		gas BIGINT NOT NULL,
		gas_price TEXT NOT NULL,
		max_fee_per_gas TEXT,
		max_priority_fee_per_gas TEXT,
		nonce BIGINT NOT NULL,
		input TEXT NOT NULL,
		transaction_index BIGINT NOT NULL,
		tx_type SMALLINT NOT NULL,
		log_events JSONB NOT NULL,
		parsed_type TEXT NOT NULL,
		dao_address TEXT,
		token_address TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS erc20 (
		address TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		decimals SMALLINT NOT NULL,
		total_supply TEXT NOT NULL,
		owner TEXT NOT NULL,
		creation_tx_hash TEXT NOT NULL,
		creation_block BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS daos (
		address TEXT PRIMARY KEY,
		token_address TEXT NOT NULL,
		creator TEXT NOT NULL,
		name TEXT NOT NULL,
		creation_block BIGINT NOT NULL,
		creation_tx_hash TEXT NOT NULL,
		creation_timestamp BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS token_holders (
		token_address TEXT NOT NULL,
		holder_address TEXT NOT NULL,
		balance TEXT NOT NULL,
		last_updated_block BIGINT NOT NULL,
		last_updated_timestamp BIGINT NOT NULL,
		PRIMARY KEY (token_address, holder_address)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_logs (
		transaction_hash TEXT NOT NULL,
		log_index BIGINT NOT NULL,
		block_number BIGINT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (transaction_hash, log_index)
	)`,
	`CREATE TABLE IF NOT EXISTS indexer_state (
		name TEXT PRIMARY KEY,
		last_processed_block BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_token_idx ON transactions (token_address)`,
	`CREATE INDEX IF NOT EXISTS transactions_dao_idx ON transactions (dao_address)`,
}

// EnsureSchema creates missing tables. It never alters existing ones.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
