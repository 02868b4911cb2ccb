package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", NormalizeAddress(" 0xABCDEF0000000000000000000000000000000001 "))
	assert.Equal(t, "0xabc", NormalizeAddress("ABC"))
	assert.Equal(t, "", NormalizeAddress(""))
	assert.True(t, IsZeroAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsZeroAddress("0x0000000000000000000000000000000000000001"))
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int64())

	v, err = ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("12abc")
	assert.Error(t, err)
}

func TestRowKeys(t *testing.T) {
	var rows = []Row{
		&TransactionRecord{Hash: "0x01"},
		&TokenRecord{ContractAddress: "0xaa"},
		&DaoRecord{Address: "0xdd"},
		&ProcessedLog{TransactionHash: "0x01", LogIndex: 3},
	}
	want := [][2]string{
		{TableTransactions, "0x01"},
		{TableTokens, "0xaa"},
		{TableDaos, "0xdd"},
		{TableProcessedLogs, "0x01:3"},
	}
	for i, row := range rows {
		assert.Equal(t, want[i][0], row.Table())
		assert.Equal(t, want[i][1], row.UniqueKey())
	}
}

func TestInterfaceKindRoundTrip(t *testing.T) {
	for _, kind := range []InterfaceKind{KindTokenFactory, KindDaoFactory, KindToken, KindDao} {
		parsed, err := ParseInterfaceKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	assert.True(t, KindTokenFactory.IsFactory())
	assert.False(t, KindToken.IsFactory())
	_, err := ParseInterfaceKind("pool")
	assert.Error(t, err)
}

func TestCanonicalLowercasesKeys(t *testing.T) {
	dao := "0x00000000000000000000000000000000000000DD"
	tx := TransactionRecord{Hash: "0xABC", BlockHash: "0xB1", From: "0x00000000000000000000000000000000000000AA", DaoAddress: &dao}.Canonical()
	assert.Equal(t, "0xabc", tx.Hash)
	assert.Equal(t, "0xb1", tx.BlockHash)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", tx.From)
	assert.Empty(t, tx.To)
	require.NotNil(t, tx.DaoAddress)
	assert.Equal(t, "0x00000000000000000000000000000000000000dd", *tx.DaoAddress)
	assert.Equal(t, "0x00000000000000000000000000000000000000DD", dao)

	assert.Equal(t, "0xff", ProcessedLog{TransactionHash: "0xFF"}.Canonical().TransactionHash)
	assert.Equal(t, "0xff", TokenRecord{CreationTxHash: "0xFF"}.Canonical().CreationTxHash)
	assert.Equal(t, "0xff", DaoRecord{CreationTxHash: "0xFF"}.Canonical().CreationTxHash)
}
