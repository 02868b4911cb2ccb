package storage

import (
	"context"
	"errors"

	"daoscope/internal/model"
)

var (
	// ErrNotFound is returned by lookups for rows that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
	// ErrConflict is returned when a compare-and-swap keeps losing to concurrent writers.
	ErrConflict = errors.New("write conflict")
)

// Outcome is the result of an insert-or-ignore write.
type Outcome int

const (
	Inserted Outcome = iota + 1
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Tx is the set of operations available inside one unit of work.
// Every insert is insert-or-ignore on the row's unique key.
type Tx interface {
	InsertTransaction(ctx context.Context, rec *model.TransactionRecord) (Outcome, error)
	InsertToken(ctx context.Context, rec *model.TokenRecord) (Outcome, error)
	InsertDao(ctx context.Context, rec *model.DaoRecord) (Outcome, error)
	MarkLogProcessed(ctx context.Context, rec *model.ProcessedLog) (Outcome, error)

	GetTransaction(ctx context.Context, hash string) (*model.TransactionRecord, error)
	GetToken(ctx context.Context, address string) (*model.TokenRecord, error)
	GetDao(ctx context.Context, address string) (*model.DaoRecord, error)
	GetHolderBalance(ctx context.Context, token, holder string) (*model.TokenHolderBalance, error)

	// SwapHolderBalance writes next only if the stored row still matches expected.
	// A nil expected means the row must not exist yet. It reports false on a lost race.
	SwapHolderBalance(ctx context.Context, expected *model.TokenHolderBalance, next *model.TokenHolderBalance) (bool, error)
	// SwapTokenSupply sets total_supply to next only if it still equals expected.
	SwapTokenSupply(ctx context.Context, token, expected, next string) (bool, error)
}

// Store is the persistent store shared by every subscription and the read side.
type Store interface {
	Tx

	ListTokens(ctx context.Context) ([]model.TokenRecord, error)
	ListDaos(ctx context.Context) ([]model.DaoRecord, error)
	ListHolderBalances(ctx context.Context, token string) ([]model.TokenHolderBalance, error)

	// WithTx runs fn in one atomic unit. Returning an error rolls back every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
