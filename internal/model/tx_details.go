package model

// TxDetails is the transaction envelope returned by the chain side-channel lookup.
type TxDetails struct {
	Hash                 string `json:"hash"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	Value                string `json:"value"`
	Gas                  uint64 `json:"gas"`
	GasPrice             string `json:"gas_price"`
	MaxFeePerGas         string `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                uint64 `json:"nonce"`
	Input                string `json:"input"`
	TransactionIndex     uint64 `json:"transaction_index"`
	Type                 uint8  `json:"type"`
}
