package model

// RawEvent is a decoded chain log before validation.
type RawEvent struct {
	ContractAddress  string         `json:"contract_address"`
	EventName        string         `json:"event_name"`
	Args             map[string]any `json:"args"`
	BlockNumber      uint64         `json:"block_number"`
	BlockHash        string         `json:"block_hash"`
	TransactionHash  string         `json:"transaction_hash"`
	TransactionIndex uint64         `json:"transaction_index"`
	LogIndex         uint64         `json:"log_index"`
	BlockTimestamp   uint64         `json:"block_timestamp"`
	Removed          bool           `json:"removed"`
}
