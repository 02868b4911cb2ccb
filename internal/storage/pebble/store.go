// Package pebble is the embedded single-node store backend.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"daoscope/internal/model"
	"daoscope/internal/storage"
)

var (
	prefixTx     = []byte("tx/")
	prefixToken  = []byte("token/")
	prefixDao    = []byte("dao/")
	prefixHolder = []byte("holder/")
	prefixLog    = []byte("plog/")
)

type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// Store keeps every table in one pebble keyspace. Units of work are indexed
// batches committed under a single writer lock.
type Store struct {
	db     *pebble.DB
	mu     sync.Mutex
	closed atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates a store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("pebble dir is required")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// WithTx runs fn against an indexed batch; reads inside fn observe fn's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&txn{r: batch, b: batch}); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Store) view() (*txn, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	return &txn{r: s.db}, nil
}

func (s *Store) InsertTransaction(ctx context.Context, rec *model.TransactionRecord) (out storage.Outcome, err error) {
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		out, err = tx.InsertTransaction(ctx, rec)
		return err
	})
	return out, err
}

func (s *Store) InsertToken(ctx context.Context, rec *model.TokenRecord) (out storage.Outcome, err error) {
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		out, err = tx.InsertToken(ctx, rec)
		return err
	})
	return out, err
}

func (s *Store) InsertDao(ctx context.Context, rec *model.DaoRecord) (out storage.Outcome, err error) {
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		out, err = tx.InsertDao(ctx, rec)
		return err
	})
	return out, err
}

func (s *Store) MarkLogProcessed(ctx context.Context, rec *model.ProcessedLog) (out storage.Outcome, err error) {
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		out, err = tx.MarkLogProcessed(ctx, rec)
		return err
	})
	return out, err
}

func (s *Store) SwapHolderBalance(ctx context.Context, expected, next *model.TokenHolderBalance) (ok bool, err error) {
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		ok, err = tx.SwapHolderBalance(ctx, expected, next)
		return err
	})
	return ok, err
}

func (s *Store) SwapTokenSupply(ctx context.Context, token, expected, next string) (ok bool, err error) {
	err = s.WithTx(ctx, func(tx storage.Tx) error {
		ok, err = tx.SwapTokenSupply(ctx, token, expected, next)
		return err
	})
	return ok, err
}

func (s *Store) GetTransaction(ctx context.Context, hash string) (*model.TransactionRecord, error) {
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	return v.GetTransaction(ctx, hash)
}

func (s *Store) GetToken(ctx context.Context, address string) (*model.TokenRecord, error) {
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	return v.GetToken(ctx, address)
}

func (s *Store) GetDao(ctx context.Context, address string) (*model.DaoRecord, error) {
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	return v.GetDao(ctx, address)
}

func (s *Store) GetHolderBalance(ctx context.Context, token, holder string) (*model.TokenHolderBalance, error) {
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	return v.GetHolderBalance(ctx, token, holder)
}

func (s *Store) ListTokens(ctx context.Context) ([]model.TokenRecord, error) {
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	var out []model.TokenRecord
	err = scanPrefix(v.r, prefixToken, func(value []byte) error {
		var rec model.TokenRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *Store) ListDaos(ctx context.Context) ([]model.DaoRecord, error) {
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	var out []model.DaoRecord
	err = scanPrefix(v.r, prefixDao, func(value []byte) error {
		var rec model.DaoRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *Store) ListHolderBalances(ctx context.Context, token string) ([]model.TokenHolderBalance, error) {
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	prefix := append(append([]byte{}, prefixHolder...), []byte(model.NormalizeAddress(token)+"/")...)
	var out []model.TokenHolderBalance
	err = scanPrefix(v.r, prefix, func(value []byte) error {
		var rec model.TokenHolderBalance
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// txn implements storage.Tx over a reader and, for writes, a batch.
type txn struct {
	r reader
	b *pebble.Batch
}

func (t *txn) InsertTransaction(_ context.Context, rec *model.TransactionRecord) (storage.Outcome, error) {
	c := rec.Canonical()
	return t.insertIfAbsent(key(prefixTx, c.Hash), &c)
}

func (t *txn) InsertToken(_ context.Context, rec *model.TokenRecord) (storage.Outcome, error) {
	c := rec.Canonical()
	return t.insertIfAbsent(key(prefixToken, c.ContractAddress), &c)
}

func (t *txn) InsertDao(_ context.Context, rec *model.DaoRecord) (storage.Outcome, error) {
	c := rec.Canonical()
	return t.insertIfAbsent(key(prefixDao, c.Address), &c)
}

func (t *txn) MarkLogProcessed(_ context.Context, rec *model.ProcessedLog) (storage.Outcome, error) {
	c := rec.Canonical()
	return t.insertIfAbsent(key(prefixLog, fmt.Sprintf("%s/%020d", c.TransactionHash, c.LogIndex)), &c)
}

func (t *txn) GetTransaction(_ context.Context, hash string) (*model.TransactionRecord, error) {
	var rec model.TransactionRecord
	if err := getJSON(t.r, key(prefixTx, hash), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *txn) GetToken(_ context.Context, address string) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	if err := getJSON(t.r, key(prefixToken, address), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *txn) GetDao(_ context.Context, address string) (*model.DaoRecord, error) {
	var rec model.DaoRecord
	if err := getJSON(t.r, key(prefixDao, address), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *txn) GetHolderBalance(_ context.Context, token, holder string) (*model.TokenHolderBalance, error) {
	var rec model.TokenHolderBalance
	if err := getJSON(t.r, holderKey(token, holder), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *txn) SwapHolderBalance(_ context.Context, expected, next *model.TokenHolderBalance) (bool, error) {
	if t.b == nil {
		return false, fmt.Errorf("write outside unit of work")
	}
	k := holderKey(next.TokenAddress, next.HolderAddress)
	var current model.TokenHolderBalance
	err := getJSON(t.r, k, &current)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if expected != nil {
			return false, nil
		}
	case err != nil:
		return false, err
	default:
		if expected == nil || current.Balance != expected.Balance {
			return false, nil
		}
	}
	return true, t.setJSON(k, next)
}

func (t *txn) SwapTokenSupply(_ context.Context, token, expected, next string) (bool, error) {
	if t.b == nil {
		return false, fmt.Errorf("write outside unit of work")
	}
	k := key(prefixToken, token)
	var rec model.TokenRecord
	if err := getJSON(t.r, k, &rec); err != nil {
		return false, err
	}
	if rec.TotalSupply != expected {
		return false, nil
	}
	rec.TotalSupply = next
	return true, t.setJSON(k, &rec)
}

func (t *txn) insertIfAbsent(k []byte, v any) (storage.Outcome, error) {
	if t.b == nil {
		return 0, fmt.Errorf("write outside unit of work")
	}
	_, closer, err := t.r.Get(k)
	if err == nil {
		closer.Close()
		return storage.Skipped, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return 0, err
	}
	if err := t.setJSON(k, v); err != nil {
		return 0, err
	}
	return storage.Inserted, nil
}

func (t *txn) setJSON(k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return t.b.Set(k, data, nil)
}

func getJSON(r reader, k []byte, out any) error {
	value, closer, err := r.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get %s: %w", k, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(value, out); err != nil {
		return fmt.Errorf("decode %s: %w", k, err)
	}
	return nil
}

func scanPrefix(r reader, prefix []byte, fn func(value []byte) error) error {
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func key(prefix []byte, id string) []byte {
	return append(append([]byte{}, prefix...), []byte(model.NormalizeAddress(id))...)
}

func holderKey(token, holder string) []byte {
	return key(prefixHolder, model.NormalizeAddress(token)+"/"+model.NormalizeAddress(holder))
}

func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
