package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"daoscope/internal/model"
	"daoscope/internal/storage"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides Postgres persistence for the ingestion tables.
type Store struct {
	pool *pgxpool.Pool
	ops
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, ops: ops{q: pool}}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// WithTx runs fn inside one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ops{q: tx})
	})
}

func (s *Store) ListTokens(ctx context.Context) ([]model.TokenRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, name, symbol, decimals, total_supply, owner, creation_tx_hash, creation_block
		FROM erc20 ORDER BY creation_block, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) ListDaos(ctx context.Context) ([]model.DaoRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, token_address, creator, name, creation_block, creation_tx_hash, creation_timestamp
		FROM daos ORDER BY creation_block, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DaoRecord
	for rows.Next() {
		rec, err := scanDao(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) ListHolderBalances(ctx context.Context, token string) ([]model.TokenHolderBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_address, holder_address, balance, last_updated_block, last_updated_timestamp
		FROM token_holders WHERE token_address = $1 ORDER BY holder_address`, model.NormalizeAddress(token))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TokenHolderBalance
	for rows.Next() {
		rec, err := scanHolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}

// ops implements storage.Tx against either the pool or an open transaction.
type ops struct {
	q querier
}

func (o ops) InsertTransaction(ctx context.Context, in *model.TransactionRecord) (storage.Outcome, error) {
	c := in.Canonical()
	rec := &c
	logEvents, err := json.Marshal(rec.LogEvents)
	if err != nil {
		return 0, fmt.Errorf("marshal log events: %w", err)
	}
	tag, err := o.q.Exec(ctx, `
		INSERT INTO transactions (
			hash, block_number, block_hash, block_timestamp, from_address, to_address, value, gas, gas_price,
			max_fee_per_gas, max_priority_fee_per_gas, nonce, input, transaction_index, tx_type,
			log_events, parsed_type, dao_address, token_address
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (hash) DO NOTHING
	`,
		rec.Hash,
		int64(rec.BlockNumber),
		rec.BlockHash,
		int64(rec.BlockTimestamp),
		rec.From,
		rec.To,
		rec.Value,
		int64(rec.Gas),
		rec.GasPrice,
		nullable(rec.MaxFeePerGas),
		nullable(rec.MaxPriorityFeePerGas),
		int64(rec.Nonce),
		rec.Input,
		int64(rec.TransactionIndex),
		int16(rec.Type),
		logEvents,
		rec.ParsedType,
		rec.DaoAddress,
		rec.TokenAddress,
	)
	return outcome(tag, err)
}

func (o ops) InsertToken(ctx context.Context, in *model.TokenRecord) (storage.Outcome, error) {
	c := in.Canonical()
	rec := &c
	tag, err := o.q.Exec(ctx, `
		INSERT INTO erc20 (address, name, symbol, decimals, total_supply, owner, creation_tx_hash, creation_block)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (address) DO NOTHING
	`,
		rec.ContractAddress,
		rec.Name,
		rec.Symbol,
		int16(rec.Decimals),
		rec.TotalSupply,
		rec.Owner,
		rec.CreationTxHash,
		int64(rec.CreationBlock),
	)
	return outcome(tag, err)
}

func (o ops) InsertDao(ctx context.Context, in *model.DaoRecord) (storage.Outcome, error) {
	c := in.Canonical()
	rec := &c
	tag, err := o.q.Exec(ctx, `
		INSERT INTO daos (address, token_address, creator, name, creation_block, creation_tx_hash, creation_timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (address) DO NOTHING
	`,
		rec.Address,
		rec.TokenAddress,
		rec.Creator,
		rec.Name,
		int64(rec.CreationBlock),
		rec.CreationTxHash,
		int64(rec.CreationTimestamp),
	)
	return outcome(tag, err)
}

func (o ops) MarkLogProcessed(ctx context.Context, in *model.ProcessedLog) (storage.Outcome, error) {
	rec := in.Canonical()
	tag, err := o.q.Exec(ctx, `
		INSERT INTO processed_logs (transaction_hash, log_index, block_number)
		VALUES ($1,$2,$3)
		ON CONFLICT (transaction_hash, log_index) DO NOTHING
	`, rec.TransactionHash, int64(rec.LogIndex), int64(rec.BlockNumber))
	return outcome(tag, err)
}

func (o ops) GetTransaction(ctx context.Context, hash string) (*model.TransactionRecord, error) {
	var (
		rec                       model.TransactionRecord
		blockNumber, blockTs, gas int64
		nonce, txIndex            int64
		txType                    int16
		maxFee, maxPriority       *string
		logEvents                 []byte
	)
	err := o.q.QueryRow(ctx, `
		SELECT hash, block_number, block_hash, block_timestamp, from_address, to_address, value, gas, gas_price,
			max_fee_per_gas, max_priority_fee_per_gas, nonce, input, transaction_index, tx_type,
			log_events, parsed_type, dao_address, token_address
		FROM transactions WHERE hash = $1`, model.NormalizeHash(hash)).Scan(
		&rec.Hash, &blockNumber, &rec.BlockHash, &blockTs, &rec.From, &rec.To, &rec.Value, &gas, &rec.GasPrice,
		&maxFee, &maxPriority, &nonce, &rec.Input, &txIndex, &txType,
		&logEvents, &rec.ParsedType, &rec.DaoAddress, &rec.TokenAddress,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(logEvents, &rec.LogEvents); err != nil {
		return nil, fmt.Errorf("decode log events: %w", err)
	}
	rec.BlockNumber = uint64(blockNumber)
	rec.BlockTimestamp = uint64(blockTs)
	rec.Gas = uint64(gas)
	rec.Nonce = uint64(nonce)
	rec.TransactionIndex = uint64(txIndex)
	rec.Type = uint8(txType)
	if maxFee != nil {
		rec.MaxFeePerGas = *maxFee
	}
	if maxPriority != nil {
		rec.MaxPriorityFeePerGas = *maxPriority
	}
	return &rec, nil
}

func (o ops) GetToken(ctx context.Context, address string) (*model.TokenRecord, error) {
	row := o.q.QueryRow(ctx, `
		SELECT address, name, symbol, decimals, total_supply, owner, creation_tx_hash, creation_block
		FROM erc20 WHERE address = $1`, model.NormalizeAddress(address))
	rec, err := scanToken(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (o ops) GetDao(ctx context.Context, address string) (*model.DaoRecord, error) {
	row := o.q.QueryRow(ctx, `
		SELECT address, token_address, creator, name, creation_block, creation_tx_hash, creation_timestamp
		FROM daos WHERE address = $1`, model.NormalizeAddress(address))
	rec, err := scanDao(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (o ops) GetHolderBalance(ctx context.Context, token, holder string) (*model.TokenHolderBalance, error) {
	row := o.q.QueryRow(ctx, `
		SELECT token_address, holder_address, balance, last_updated_block, last_updated_timestamp
		FROM token_holders WHERE token_address = $1 AND holder_address = $2`,
		model.NormalizeAddress(token), model.NormalizeAddress(holder))
	rec, err := scanHolder(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (o ops) SwapHolderBalance(ctx context.Context, expected, next *model.TokenHolderBalance) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expected == nil {
		tag, err = o.q.Exec(ctx, `
			INSERT INTO token_holders (token_address, holder_address, balance, last_updated_block, last_updated_timestamp)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (token_address, holder_address) DO NOTHING
		`, next.TokenAddress, next.HolderAddress, next.Balance, int64(next.LastUpdatedBlock), int64(next.LastUpdatedTimestamp))
	} else {
		tag, err = o.q.Exec(ctx, `
			UPDATE token_holders
			SET balance = $3, last_updated_block = $4, last_updated_timestamp = $5
			WHERE token_address = $1 AND holder_address = $2 AND balance = $6
		`, next.TokenAddress, next.HolderAddress, next.Balance, int64(next.LastUpdatedBlock), int64(next.LastUpdatedTimestamp), expected.Balance)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (o ops) SwapTokenSupply(ctx context.Context, token, expected, next string) (bool, error) {
	tag, err := o.q.Exec(ctx, `
		UPDATE erc20 SET total_supply = $2, updated_at = now()
		WHERE address = $1 AND total_supply = $3
	`, model.NormalizeAddress(token), next, expected)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := o.GetToken(ctx, token); err != nil {
		return false, err
	}
	return false, nil
}

func scanToken(row pgx.Row) (*model.TokenRecord, error) {
	var (
		rec      model.TokenRecord
		decimals int16
		block    int64
	)
	if err := row.Scan(&rec.ContractAddress, &rec.Name, &rec.Symbol, &decimals, &rec.TotalSupply, &rec.Owner, &rec.CreationTxHash, &block); err != nil {
		return nil, err
	}
	rec.Decimals = uint8(decimals)
	rec.CreationBlock = uint64(block)
	return &rec, nil
}

func scanDao(row pgx.Row) (*model.DaoRecord, error) {
	var (
		rec       model.DaoRecord
		block, ts int64
	)
	if err := row.Scan(&rec.Address, &rec.TokenAddress, &rec.Creator, &rec.Name, &block, &rec.CreationTxHash, &ts); err != nil {
		return nil, err
	}
	rec.CreationBlock = uint64(block)
	rec.CreationTimestamp = uint64(ts)
	return &rec, nil
}

func scanHolder(row pgx.Row) (*model.TokenHolderBalance, error) {
	var (
		rec       model.TokenHolderBalance
		block, ts int64
	)
	if err := row.Scan(&rec.TokenAddress, &rec.HolderAddress, &rec.Balance, &block, &ts); err != nil {
		return nil, err
	}
	rec.LastUpdatedBlock = uint64(block)
	rec.LastUpdatedTimestamp = uint64(ts)
	return &rec, nil
}

func outcome(tag pgconn.CommandTag, err error) (storage.Outcome, error) {
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return storage.Skipped, nil
	}
	return storage.Inserted, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
