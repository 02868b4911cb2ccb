package chain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCTransactionDetails(t *testing.T) {
	payload := `{
		"hash": "0xAB00000000000000000000000000000000000000000000000000000000000001",
		"blockNumber": "0x10",
		"from": "0x00000000000000000000000000000000000000AA",
		"to": "0x00000000000000000000000000000000000000BB",
		"value": "0x3e8",
		"gas": "0x5208",
		"gasPrice": "0x2",
		"maxFeePerGas": "0x5",
		"maxPriorityFeePerGas": "0x1",
		"nonce": "0x7",
		"input": "0xdeadbeef",
		"transactionIndex": "0x3",
		"type": "0x2"
	}`
	var raw rpcTransaction
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	d := raw.details()
	assert.Equal(t, "0xab00000000000000000000000000000000000000000000000000000000000001", d.Hash)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", d.From)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", d.To)
	assert.Equal(t, "1000", d.Value)
	assert.Equal(t, uint64(21000), d.Gas)
	assert.Equal(t, "2", d.GasPrice)
	assert.Equal(t, "5", d.MaxFeePerGas)
	assert.Equal(t, "1", d.MaxPriorityFeePerGas)
	assert.Equal(t, uint64(7), d.Nonce)
	assert.Equal(t, "0xdeadbeef", d.Input)
	assert.Equal(t, uint64(3), d.TransactionIndex)
	assert.Equal(t, uint8(2), d.Type)
}

func TestRPCTransactionLegacyContractCreation(t *testing.T) {
	payload := `{
		"hash": "0x0000000000000000000000000000000000000000000000000000000000000002",
		"blockNumber": "0x1",
		"from": "0x00000000000000000000000000000000000000aa",
		"to": null,
		"value": "0x0",
		"gas": "0x1",
		"gasPrice": "0x9",
		"nonce": "0x0",
		"input": "0x",
		"transactionIndex": "0x0",
		"type": "0x0"
	}`
	var raw rpcTransaction
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	d := raw.details()
	assert.Empty(t, d.To)
	assert.Empty(t, d.MaxFeePerGas)
	assert.Equal(t, "9", d.GasPrice)
	assert.Equal(t, "0x", d.Input)
}
