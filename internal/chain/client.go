package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"daoscope/internal/model"
)

var (
	// ErrTxNotFound is returned when the node does not know the transaction.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrTxPending is returned for transactions that are not yet in a block.
	ErrTxPending = errors.New("transaction pending")
)

const maxCachedTimestamps = 16384

type Options struct {
	// LookupRPS limits transaction and header lookups per second; zero means unlimited.
	LookupRPS   float64
	LookupBurst int
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient creates a new chain client from the RPC URL. Subscriptions need a ws or ipc endpoint.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.LookupRPS > 0 {
		limit = rate.Limit(opts.LookupRPS)
	}
	burst := opts.LookupBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		limiter:   rate.NewLimiter(limit, burst),
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// SubscribeLogs opens a live log stream for the query.
func (c *Client) SubscribeLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.ethClient.SubscribeFilterLogs(ctx, query, ch)
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	if len(c.tsCache) >= maxCachedTimestamps {
		c.tsCache = make(map[uint64]uint64)
	}
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return c.ethClient.FilterLogs(ctx, query)
}

type rpcTransaction struct {
	Hash                 common.Hash     `json:"hash"`
	BlockNumber          *hexutil.Big    `json:"blockNumber"`
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to"`
	Value                *hexutil.Big    `json:"value"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Input                hexutil.Bytes   `json:"input"`
	TransactionIndex     *hexutil.Uint64 `json:"transactionIndex"`
	Type                 hexutil.Uint64  `json:"type"`
}

// TransactionDetails fetches the envelope of a mined transaction.
func (c *Client) TransactionDetails(ctx context.Context, hash common.Hash) (model.TxDetails, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.TxDetails{}, err
	}

	var raw *rpcTransaction
	if err := c.rpcClient.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return model.TxDetails{}, fmt.Errorf("get transaction %s: %w", hash.Hex(), err)
	}
	if raw == nil {
		return model.TxDetails{}, fmt.Errorf("%w: %s", ErrTxNotFound, hash.Hex())
	}
	if raw.BlockNumber == nil {
		return model.TxDetails{}, fmt.Errorf("%w: %s", ErrTxPending, hash.Hex())
	}
	return raw.details(), nil
}

func (r *rpcTransaction) details() model.TxDetails {
	d := model.TxDetails{
		Hash:     strings.ToLower(r.Hash.Hex()),
		From:     model.NormalizeAddress(r.From.Hex()),
		Value:    bigString(r.Value),
		Gas:      uint64(r.Gas),
		GasPrice: bigString(r.GasPrice),
		Nonce:    uint64(r.Nonce),
		Input:    hexutil.Encode(r.Input),
		Type:     uint8(r.Type),
	}
	if r.To != nil {
		d.To = model.NormalizeAddress(r.To.Hex())
	}
	if r.MaxFeePerGas != nil {
		d.MaxFeePerGas = bigString(r.MaxFeePerGas)
	}
	if r.MaxPriorityFeePerGas != nil {
		d.MaxPriorityFeePerGas = bigString(r.MaxPriorityFeePerGas)
	}
	if r.TransactionIndex != nil {
		d.TransactionIndex = uint64(*r.TransactionIndex)
	}
	return d
}

func bigString(v *hexutil.Big) string {
	if v == nil {
		return "0"
	}
	return v.ToInt().String()
}
