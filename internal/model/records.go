package model

import (
	"fmt"
	"math/big"
)

// Table names shared by every store backend.
const (
	TableTransactions  = "transactions"
	TableTokens        = "erc20"
	TableDaos          = "daos"
	TableTokenHolders  = "token_holders"
	TableProcessedLogs = "processed_logs"
)

// Row is a record that is written with insert-or-ignore semantics.
type Row interface {
	Table() string
	UniqueKey() string
}

// LogEvent is the decoded payload stored with a transaction record.
type LogEvent struct {
	Contract string            `json:"contract"`
	Event    string            `json:"event"`
	LogIndex uint64            `json:"log_index"`
	Args     map[string]string `json:"args"`
}

// TransactionRecord is the persisted envelope of the transaction that produced an event.
type TransactionRecord struct {
	Hash                 string     `json:"hash"`
	BlockNumber          uint64     `json:"block_number"`
	BlockHash            string     `json:"block_hash"`
	BlockTimestamp       uint64     `json:"block_timestamp"`
	From                 string     `json:"from"`
	To                   string     `json:"to"`
	Value                string     `json:"value"`
	Gas                  uint64     `json:"gas"`
	GasPrice             string     `json:"gas_price"`
	MaxFeePerGas         string     `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string     `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                uint64     `json:"nonce"`
	Input                string     `json:"input"`
	TransactionIndex     uint64     `json:"transaction_index"`
	Type                 uint8      `json:"type"`
	LogEvents            []LogEvent `json:"log_events"`
	ParsedType           string     `json:"parsed_type"`
	DaoAddress           *string    `json:"dao_address,omitempty"`
	TokenAddress         *string    `json:"token_address,omitempty"`
}

func (r *TransactionRecord) Table() string     { return TableTransactions }
func (r *TransactionRecord) UniqueKey() string { return r.Hash }

// TokenRecord describes a token created by the token factory.
type TokenRecord struct {
	ContractAddress string `json:"contract_address"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	TotalSupply     string `json:"total_supply"`
	Owner           string `json:"owner"`
	CreationTxHash  string `json:"creation_tx_hash"`
	CreationBlock   uint64 `json:"creation_block"`
}

func (r *TokenRecord) Table() string     { return TableTokens }
func (r *TokenRecord) UniqueKey() string { return r.ContractAddress }

// DaoRecord describes a DAO created by the DAO factory.
type DaoRecord struct {
	Address           string `json:"address"`
	TokenAddress      string `json:"token_address"`
	Creator           string `json:"creator"`
	Name              string `json:"name"`
	CreationBlock     uint64 `json:"creation_block"`
	CreationTxHash    string `json:"creation_tx_hash"`
	CreationTimestamp uint64 `json:"creation_timestamp"`
}

func (r *DaoRecord) Table() string     { return TableDaos }
func (r *DaoRecord) UniqueKey() string { return r.Address }

// TokenHolderBalance is one holder's running balance of one token.
type TokenHolderBalance struct {
	TokenAddress         string `json:"token_address"`
	HolderAddress        string `json:"holder_address"`
	Balance              string `json:"balance"`
	LastUpdatedBlock     uint64 `json:"last_updated_block"`
	LastUpdatedTimestamp uint64 `json:"last_updated_timestamp"`
}

// BalanceInt parses Balance; an empty balance is zero.
func (b *TokenHolderBalance) BalanceInt() (*big.Int, error) {
	return ParseAmount(b.Balance)
}

// ProcessedLog marks a (transaction, log index) pair as applied.
type ProcessedLog struct {
	TransactionHash string `json:"transaction_hash"`
	LogIndex        uint64 `json:"log_index"`
	BlockNumber     uint64 `json:"block_number"`
}

func (p *ProcessedLog) Table() string     { return TableProcessedLogs }
func (p *ProcessedLog) UniqueKey() string { return fmt.Sprintf("%s:%d", p.TransactionHash, p.LogIndex) }

// Canonical returns a copy with hashes and addresses in their store key form.
func (r TransactionRecord) Canonical() TransactionRecord {
	r.Hash = NormalizeHash(r.Hash)
	r.BlockHash = NormalizeHash(r.BlockHash)
	r.From = NormalizeAddress(r.From)
	r.To = NormalizeAddress(r.To)
	r.DaoAddress = normalizeOptional(r.DaoAddress)
	r.TokenAddress = normalizeOptional(r.TokenAddress)
	return r
}

func (r TokenRecord) Canonical() TokenRecord {
	r.ContractAddress = NormalizeAddress(r.ContractAddress)
	r.Owner = NormalizeAddress(r.Owner)
	r.CreationTxHash = NormalizeHash(r.CreationTxHash)
	return r
}

func (r DaoRecord) Canonical() DaoRecord {
	r.Address = NormalizeAddress(r.Address)
	r.TokenAddress = NormalizeAddress(r.TokenAddress)
	r.Creator = NormalizeAddress(r.Creator)
	r.CreationTxHash = NormalizeHash(r.CreationTxHash)
	return r
}

func (p ProcessedLog) Canonical() ProcessedLog {
	p.TransactionHash = NormalizeHash(p.TransactionHash)
	return p
}

func normalizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := NormalizeAddress(*s)
	return &v
}

// ParseAmount parses a non-negative base-10 integer string.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	return v, nil
}
