// Package ledger maintains per-holder token balances and per-token total supply.
//
// Every mutation holds the in-process stripes for the keys it touches and writes through a
// compare-and-swap on the store, so concurrent subscriptions touching the same holder never lose
// an update. The sum of holder balances for a token always equals its total supply once a
// transfer has been fully applied.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"daoscope/internal/metrics"
	"daoscope/internal/model"
	"daoscope/internal/storage"
)

var (
	// ErrInsufficientBalance is returned when a debit would take a balance or supply below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownToken is returned when the token row does not exist.
	ErrUnknownToken = errors.New("unknown token")
)

const defaultMaxAttempts = 5

// TransferKind classifies a transfer by its zero-address endpoints.
type TransferKind int

const (
	KindTransfer TransferKind = iota + 1
	KindMint
	KindBurn
)

func (k TransferKind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindMint:
		return "mint"
	case KindBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// ClassifyTransfer reports mint for a zero sender, burn for a zero recipient and transfer otherwise.
func ClassifyTransfer(from, to string) (TransferKind, error) {
	fromZero, toZero := model.IsZeroAddress(from), model.IsZeroAddress(to)
	switch {
	case fromZero && toZero:
		return 0, fmt.Errorf("transfer between zero addresses")
	case fromZero:
		return KindMint, nil
	case toZero:
		return KindBurn, nil
	default:
		return KindTransfer, nil
	}
}

// Stamp is the block position written onto every touched holder row.
type Stamp struct {
	Block     uint64
	Timestamp uint64
}

// Transfer is one transfer-shaped event.
type Transfer struct {
	Token  string
	From   string
	To     string
	Amount *big.Int
	Stamp
}

type Options struct {
	// Stripes is the number of in-process lock stripes.
	Stripes int
	// MaxAttempts bounds compare-and-swap retries per write.
	MaxAttempts int
}

type Ledger struct {
	locks       *keyLocks
	maxAttempts int
	logger      *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Ledger{
		locks:       newKeyLocks(opts.Stripes),
		maxAttempts: opts.MaxAttempts,
		logger:      logger,
	}
}

// ApplyTransfer applies a mint, burn or plain transfer inside tx.
// On error nothing is guaranteed about partial writes in tx; the caller rolls the unit back.
func (l *Ledger) ApplyTransfer(ctx context.Context, tx storage.Tx, t Transfer) (TransferKind, error) {
	kind, err := ClassifyTransfer(t.From, t.To)
	if err != nil {
		return 0, l.fail("transfer", t.Token, "", t.Amount, err)
	}
	if t.Amount == nil || t.Amount.Sign() < 0 {
		return 0, l.fail(kind.String(), t.Token, "", t.Amount, fmt.Errorf("invalid amount"))
	}
	token := model.NormalizeAddress(t.Token)
	from := model.NormalizeAddress(t.From)
	to := model.NormalizeAddress(t.To)

	switch kind {
	case KindMint:
		unlock := l.locks.lock(supplyKey(token), holderKey(token, to))
		defer unlock()
		if _, err := l.adjustSupply(ctx, tx, token, t.Amount, true); err != nil {
			return kind, l.fail(kind.String(), token, to, t.Amount, err)
		}
		if _, err := l.adjustBalance(ctx, tx, token, to, t.Amount, true, t.Stamp); err != nil {
			return kind, l.fail(kind.String(), token, to, t.Amount, err)
		}
	case KindBurn:
		unlock := l.locks.lock(supplyKey(token), holderKey(token, from))
		defer unlock()
		if _, err := l.adjustBalance(ctx, tx, token, from, t.Amount, false, t.Stamp); err != nil {
			return kind, l.fail(kind.String(), token, from, t.Amount, err)
		}
		if _, err := l.adjustSupply(ctx, tx, token, t.Amount, false); err != nil {
			return kind, l.fail(kind.String(), token, from, t.Amount, err)
		}
	default:
		unlock := l.locks.lock(holderKey(token, from), holderKey(token, to))
		defer unlock()
		if _, err := l.adjustBalance(ctx, tx, token, from, t.Amount, false, t.Stamp); err != nil {
			return kind, l.fail(kind.String(), token, from, t.Amount, err)
		}
		if _, err := l.adjustBalance(ctx, tx, token, to, t.Amount, true, t.Stamp); err != nil {
			return kind, l.fail(kind.String(), token, to, t.Amount, err)
		}
	}

	metrics.LedgerOpsTotal.WithLabelValues(kind.String(), "ok").Inc()
	l.logger.Debug("transfer applied",
		zap.String("kind", kind.String()),
		zap.String("token", token),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", t.Amount.String()),
		zap.Uint64("block_number", t.Block),
	)
	return kind, nil
}

// AdjustBalance adds or subtracts amount from one holder's balance and returns the new balance.
// A missing row counts as zero and is created.
func (l *Ledger) AdjustBalance(ctx context.Context, tx storage.Tx, token, holder string, amount *big.Int, isAdd bool, at Stamp) (*big.Int, error) {
	token = model.NormalizeAddress(token)
	holder = model.NormalizeAddress(holder)
	if amount == nil || amount.Sign() < 0 {
		return nil, l.fail("adjust_balance", token, holder, amount, fmt.Errorf("invalid amount"))
	}
	unlock := l.locks.lock(holderKey(token, holder))
	defer unlock()

	next, err := l.adjustBalance(ctx, tx, token, holder, amount, isAdd, at)
	if err != nil {
		return nil, l.fail("adjust_balance", token, holder, amount, err)
	}
	metrics.LedgerOpsTotal.WithLabelValues("adjust_balance", "ok").Inc()
	return next, nil
}

// AdjustSupply adds or subtracts amount from a token's total supply and returns the new supply.
func (l *Ledger) AdjustSupply(ctx context.Context, tx storage.Tx, token string, amount *big.Int, isAdd bool) (*big.Int, error) {
	token = model.NormalizeAddress(token)
	if amount == nil || amount.Sign() < 0 {
		return nil, l.fail("adjust_supply", token, "", amount, fmt.Errorf("invalid amount"))
	}
	unlock := l.locks.lock(supplyKey(token))
	defer unlock()

	next, err := l.adjustSupply(ctx, tx, token, amount, isAdd)
	if err != nil {
		return nil, l.fail("adjust_supply", token, "", amount, err)
	}
	metrics.LedgerOpsTotal.WithLabelValues("adjust_supply", "ok").Inc()
	return next, nil
}

func (l *Ledger) adjustBalance(ctx context.Context, tx storage.Tx, token, holder string, amount *big.Int, isAdd bool, at Stamp) (*big.Int, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		current := new(big.Int)
		expected, err := tx.GetHolderBalance(ctx, token, holder)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			expected = nil
		case err != nil:
			return nil, fmt.Errorf("read balance: %w", err)
		default:
			if current, err = expected.BalanceInt(); err != nil {
				return nil, fmt.Errorf("stored balance: %w", err)
			}
		}

		next := apply(current, amount, isAdd)
		if next.Sign() < 0 {
			return nil, fmt.Errorf("%w: holder %s has %s, debit %s", ErrInsufficientBalance, holder, current, amount)
		}

		ok, err := tx.SwapHolderBalance(ctx, expected, &model.TokenHolderBalance{
			TokenAddress:         token,
			HolderAddress:        holder,
			Balance:              next.String(),
			LastUpdatedBlock:     at.Block,
			LastUpdatedTimestamp: at.Timestamp,
		})
		if err != nil {
			return nil, fmt.Errorf("write balance: %w", err)
		}
		if ok {
			return next, nil
		}
		metrics.LedgerConflicts.Inc()
	}
	return nil, fmt.Errorf("balance %s/%s: %w", token, holder, storage.ErrConflict)
}

func (l *Ledger) adjustSupply(ctx context.Context, tx storage.Tx, token string, amount *big.Int, isAdd bool) (*big.Int, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		rec, err := tx.GetToken(ctx, token)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		current, err := model.ParseAmount(rec.TotalSupply)
		if err != nil {
			return nil, fmt.Errorf("stored supply: %w", err)
		}

		next := apply(current, amount, isAdd)
		if next.Sign() < 0 {
			return nil, fmt.Errorf("%w: supply %s, burn %s", ErrInsufficientBalance, current, amount)
		}

		ok, err := tx.SwapTokenSupply(ctx, token, rec.TotalSupply, next.String())
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		if err != nil {
			return nil, fmt.Errorf("write supply: %w", err)
		}
		if ok {
			return next, nil
		}
		metrics.LedgerConflicts.Inc()
	}
	return nil, fmt.Errorf("supply %s: %w", token, storage.ErrConflict)
}

func (l *Ledger) fail(op, token, holder string, amount *big.Int, err error) error {
	outcome := "error"
	if errors.Is(err, ErrInsufficientBalance) {
		outcome = "insufficient"
	}
	metrics.LedgerOpsTotal.WithLabelValues(op, outcome).Inc()

	amt := ""
	if amount != nil {
		amt = amount.String()
	}
	l.logger.Error("ledger operation failed",
		zap.String("op", op),
		zap.String("token", token),
		zap.String("holder", holder),
		zap.String("amount", amt),
		zap.Error(err),
	)
	return err
}

func apply(current, amount *big.Int, isAdd bool) *big.Int {
	if isAdd {
		return new(big.Int).Add(current, amount)
	}
	return new(big.Int).Sub(current, amount)
}
