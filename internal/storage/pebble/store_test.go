package pebble

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daoscope/internal/model"
	"daoscope/internal/storage"
)

const (
	tokenAddr  = "0x00000000000000000000000000000000000000aa"
	holderAddr = "0x00000000000000000000000000000000000000bb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertTransactionIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := &model.TransactionRecord{Hash: "0xabc", ParsedType: "transfer", BlockNumber: 10}

	out, err := s.InsertTransaction(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, storage.Inserted, out)

	second := *rec
	second.ParsedType = "approval"
	out, err = s.InsertTransaction(ctx, &second)
	require.NoError(t, err)
	assert.Equal(t, storage.Skipped, out)

	got, err := s.GetTransaction(ctx, "0xABC")
	require.NoError(t, err)
	assert.Equal(t, "transfer", got.ParsedType)
}

func TestMarkLogProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	out, err := s.MarkLogProcessed(ctx, &model.ProcessedLog{TransactionHash: "0x01", LogIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, storage.Inserted, out)

	out, err = s.MarkLogProcessed(ctx, &model.ProcessedLog{TransactionHash: "0x01", LogIndex: 3})
	require.NoError(t, err)
	assert.Equal(t, storage.Inserted, out)

	out, err = s.MarkLogProcessed(ctx, &model.ProcessedLog{TransactionHash: "0x01", LogIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, storage.Skipped, out)
}

func TestHashesAreCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	out, err := s.InsertTransaction(ctx, &model.TransactionRecord{Hash: "0xABCDEF", From: "0x00000000000000000000000000000000000000BB"})
	require.NoError(t, err)
	assert.Equal(t, storage.Inserted, out)

	got, err := s.GetTransaction(ctx, "0xabcdef")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef", got.Hash)
	assert.Equal(t, holderAddr, got.From)

	out, err = s.MarkLogProcessed(ctx, &model.ProcessedLog{TransactionHash: "0xABCDEF", LogIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, storage.Inserted, out)
	out, err = s.MarkLogProcessed(ctx, &model.ProcessedLog{TransactionHash: "0xabcdef", LogIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, storage.Skipped, out)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetToken(ctx, tokenAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetDao(ctx, tokenAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetHolderBalance(ctx, tokenAddr, holderAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSwapHolderBalance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &model.TokenHolderBalance{TokenAddress: tokenAddr, HolderAddress: holderAddr, Balance: "100", LastUpdatedBlock: 1}
	ok, err := s.SwapHolderBalance(ctx, nil, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SwapHolderBalance(ctx, nil, first)
	require.NoError(t, err)
	assert.False(t, ok, "row already exists")

	stale := &model.TokenHolderBalance{TokenAddress: tokenAddr, HolderAddress: holderAddr, Balance: "90"}
	next := &model.TokenHolderBalance{TokenAddress: tokenAddr, HolderAddress: holderAddr, Balance: "50", LastUpdatedBlock: 2}
	ok, err = s.SwapHolderBalance(ctx, stale, next)
	require.NoError(t, err)
	assert.False(t, ok, "expected value does not match")

	ok, err = s.SwapHolderBalance(ctx, first, next)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetHolderBalance(ctx, tokenAddr, holderAddr)
	require.NoError(t, err)
	assert.Equal(t, "50", got.Balance)
	assert.Equal(t, uint64(2), got.LastUpdatedBlock)
}

func TestSwapTokenSupply(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SwapTokenSupply(ctx, tokenAddr, "0", "1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.InsertToken(ctx, &model.TokenRecord{ContractAddress: tokenAddr, TotalSupply: "1000"})
	require.NoError(t, err)

	ok, err := s.SwapTokenSupply(ctx, tokenAddr, "999", "1050")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SwapTokenSupply(ctx, tokenAddr, "1000", "1050")
	require.NoError(t, err)
	assert.True(t, ok)

	tok, err := s.GetToken(ctx, tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, "1050", tok.TotalSupply)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx storage.Tx) error {
		out, err := tx.InsertToken(ctx, &model.TokenRecord{ContractAddress: tokenAddr, TotalSupply: "1"})
		require.NoError(t, err)
		require.Equal(t, storage.Inserted, out)

		// reads inside the unit see its own writes
		tok, err := tx.GetToken(ctx, tokenAddr)
		require.NoError(t, err)
		require.Equal(t, "1", tok.TotalSupply)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetToken(ctx, tokenAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	other := "0x00000000000000000000000000000000000000cc"
	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		for _, addr := range []string{tokenAddr, other} {
			if _, err := tx.InsertToken(ctx, &model.TokenRecord{ContractAddress: addr, TotalSupply: "0"}); err != nil {
				return err
			}
		}
		if _, err := tx.InsertDao(ctx, &model.DaoRecord{Address: other, TokenAddress: tokenAddr}); err != nil {
			return err
		}
		for _, h := range []string{holderAddr, other} {
			if _, err := tx.SwapHolderBalance(ctx, nil, &model.TokenHolderBalance{TokenAddress: tokenAddr, HolderAddress: h, Balance: "1"}); err != nil {
				return err
			}
		}
		_, err := tx.SwapHolderBalance(ctx, nil, &model.TokenHolderBalance{TokenAddress: other, HolderAddress: holderAddr, Balance: "7"})
		return err
	}))

	tokens, err := s.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	daos, err := s.ListDaos(ctx)
	require.NoError(t, err)
	require.Len(t, daos, 1)
	assert.Equal(t, tokenAddr, daos[0].TokenAddress)

	holders, err := s.ListHolderBalances(ctx, tokenAddr)
	require.NoError(t, err)
	assert.Len(t, holders, 2)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetToken(context.Background(), tokenAddr)
	assert.ErrorIs(t, err, storage.ErrClosed)
	err = s.WithTx(context.Background(), func(storage.Tx) error { return nil })
	assert.ErrorIs(t, err, storage.ErrClosed)
}
