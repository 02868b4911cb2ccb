package ledger

import (
	"context"
	"runtime"
	"strconv"
	"sync"

	"daoscope/internal/model"
	"daoscope/internal/storage"
)

// memTx is a Tx whose calls are individually atomic but never grouped into units, so
// concurrent ledger calls interleave between their read and their swap.
type memTx struct {
	storage.Tx

	mu       sync.Mutex
	supply   map[string]string
	balances map[string]string
	// blind makes swaps ignore the expected value, as a plain read-modify-write would.
	blind bool
	// afterRead runs after every balance read, outside the lock.
	afterRead func(token, holder string)
}

func newMemTx() *memTx {
	return &memTx{supply: make(map[string]string), balances: make(map[string]string)}
}

func (m *memTx) seed(token string, holders map[string]int64) {
	token = model.NormalizeAddress(token)
	total := int64(0)
	for h, v := range holders {
		m.balances[holderKey(token, model.NormalizeAddress(h))] = bigString(v)
		total += v
	}
	m.supply[token] = bigString(total)
}

func (m *memTx) balance(token, holder string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[holderKey(model.NormalizeAddress(token), model.NormalizeAddress(holder))]
}

func (m *memTx) totalSupply(token string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply[model.NormalizeAddress(token)]
}

func (m *memTx) GetToken(_ context.Context, address string) (*model.TokenRecord, error) {
	m.mu.Lock()
	s, ok := m.supply[address]
	m.mu.Unlock()
	runtime.Gosched()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &model.TokenRecord{ContractAddress: address, TotalSupply: s}, nil
}

func (m *memTx) GetHolderBalance(_ context.Context, token, holder string) (*model.TokenHolderBalance, error) {
	m.mu.Lock()
	b, ok := m.balances[holderKey(token, holder)]
	m.mu.Unlock()
	if m.afterRead != nil {
		m.afterRead(token, holder)
	}
	runtime.Gosched()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &model.TokenHolderBalance{TokenAddress: token, HolderAddress: holder, Balance: b}, nil
}

func (m *memTx) SwapHolderBalance(_ context.Context, expected, next *model.TokenHolderBalance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := holderKey(next.TokenAddress, next.HolderAddress)
	if !m.blind {
		cur, ok := m.balances[k]
		if expected == nil && ok {
			return false, nil
		}
		if expected != nil && (!ok || cur != expected.Balance) {
			return false, nil
		}
	}
	m.balances[k] = next.Balance
	return true, nil
}

func (m *memTx) SwapTokenSupply(_ context.Context, token, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.supply[token]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !m.blind && cur != expected {
		return false, nil
	}
	m.supply[token] = next
	return true, nil
}

func bigString(v int64) string { return strconv.FormatInt(v, 10) }
