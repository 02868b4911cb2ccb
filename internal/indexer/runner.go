// Package indexer replays historical logs through the ingestion pipeline.
package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"daoscope/internal/ingest"
	"daoscope/internal/model"
	"daoscope/internal/watch"
)

// RunConfig holds runtime settings for a backfill.
type RunConfig struct {
	FromBlock    uint64
	ToBlock      uint64
	Factories    []model.WatchTarget
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxAddresses caps addresses per log query; zero means DefaultMaxAddresses.
	MaxAddresses int
}

// LogFetcher reads historical logs.
type LogFetcher interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Handler applies one log. Implemented by ingest.Router.
type Handler interface {
	HandleLog(ctx context.Context, family model.InterfaceKind, lg types.Log) ingest.Result
}

// Catalog resolves and lists known tokens and DAOs.
type Catalog interface {
	watch.Lookup
	watch.Catalog
}

// Summary counts what a run did.
type Summary struct {
	Ranges     int
	Logs       int
	Discovered int
	Results    map[ingest.Result]int
}

// Runner walks a block range in batches, handing every log of every known contract to the
// pipeline. Children announced by factories inside a range are added to the address set and
// the same range is queried again for them, so their early events are not missed.
type Runner struct {
	cfg        RunConfig
	chain      LogFetcher
	handler    Handler
	catalog    Catalog
	checkpoint Checkpointer
	logger     *zap.Logger

	mu      sync.Mutex
	targets map[common.Address]model.InterfaceKind
	pending []common.Address
	seen    map[string]struct{}
}

// NewRunner builds a Runner with its dependencies. checkpoint may be nil.
func NewRunner(cfg RunConfig, chainClient LogFetcher, handler Handler, catalog Catalog, checkpoint Checkpointer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkpoint == nil {
		checkpoint = NewFileCheckpoint("", false)
	}
	return &Runner{
		cfg:        cfg,
		chain:      chainClient,
		handler:    handler,
		catalog:    catalog,
		checkpoint: checkpoint,
		logger:     logger,
		targets:    make(map[common.Address]model.InterfaceKind),
		seen:       make(map[string]struct{}),
	}
}

// Run executes the backfill loop.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Results: make(map[ingest.Result]int)}
	if r.chain == nil {
		return summary, fmt.Errorf("chain client is nil")
	}
	if r.handler == nil || r.catalog == nil {
		return summary, fmt.Errorf("handler and catalog are required")
	}
	if r.cfg.BatchSize == 0 {
		return summary, fmt.Errorf("batch size must be greater than zero")
	}
	if err := r.loadTargets(ctx); err != nil {
		return summary, err
	}
	if len(r.targets) == 0 {
		return summary, fmt.Errorf("at least one address is required")
	}

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return summary, fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	last, ok, err := r.checkpoint.Load(ctx)
	if err != nil {
		return summary, err
	}
	if ok && last >= from {
		from = last + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return summary, nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return summary, err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		r.seen = make(map[string]struct{})
		addresses := r.addresses()
		for len(addresses) > 0 {
			r.logger.Info("fetch logs",
				zap.Uint64("from", blockRange.From),
				zap.Uint64("to", blockRange.To),
				zap.Int("addresses", len(addresses)),
			)
			logs, err := r.filterLogsWithRetry(ctx, blockRange, addresses)
			if err != nil {
				return summary, fmt.Errorf("filter logs: %w", err)
			}
			sortLogs(logs)

			for _, lg := range logs {
				if r.isDuplicate(lg) {
					continue
				}
				family, ok := r.family(lg.Address)
				if !ok {
					continue
				}
				summary.Results[r.handler.HandleLog(ctx, family, lg)]++
				summary.Logs++
			}

			// Re-query this range for children discovered in it.
			addresses = r.takePending()
			summary.Discovered += len(addresses)
		}

		if err := r.checkpoint.Save(ctx, blockRange.To); err != nil {
			return summary, err
		}
		summary.Ranges++
		r.logger.Info("batch complete", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}
	return summary, nil
}

func (r *Runner) loadTargets(ctx context.Context) error {
	for _, f := range r.cfg.Factories {
		r.addTarget(f.ContractAddress, f.Kind, false)
	}
	tokens, err := r.catalog.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	for _, t := range tokens {
		r.addTarget(t.ContractAddress, model.KindToken, false)
	}
	daos, err := r.catalog.ListDaos(ctx)
	if err != nil {
		return fmt.Errorf("list daos: %w", err)
	}
	for _, d := range daos {
		r.addTarget(d.Address, model.KindDao, false)
	}
	return nil
}

// RegisterDiscoveredToken adds a factory-created token to the address set.
func (r *Runner) RegisterDiscoveredToken(ctx context.Context, address string) bool {
	if _, err := r.catalog.GetToken(ctx, address); err != nil {
		r.logger.Warn("discovered token not in store", zap.String("contract", address), zap.Error(err))
		return false
	}
	r.addTarget(address, model.KindToken, true)
	return true
}

// RegisterDiscoveredDao adds a factory-created DAO to the address set.
func (r *Runner) RegisterDiscoveredDao(ctx context.Context, address string) bool {
	if _, err := r.catalog.GetDao(ctx, address); err != nil {
		r.logger.Warn("discovered dao not in store", zap.String("contract", address), zap.Error(err))
		return false
	}
	r.addTarget(address, model.KindDao, true)
	return true
}

func (r *Runner) addTarget(address string, kind model.InterfaceKind, discovered bool) {
	addr := common.HexToAddress(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[addr]; ok {
		return
	}
	r.targets[addr] = kind
	if discovered {
		r.pending = append(r.pending, addr)
	}
}

func (r *Runner) addresses() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.Address, 0, len(r.targets))
	for addr := range r.targets {
		out = append(out, addr)
	}
	r.pending = nil
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (r *Runner) takePending() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

func (r *Runner) family(addr common.Address) (model.InterfaceKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind, ok := r.targets[addr]
	return kind, ok
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, blockRange BlockRange, addresses []common.Address) ([]types.Log, error) {
	var all []types.Log
	for _, chunk := range chunkAddresses(addresses, r.cfg.MaxAddresses) {
		var logs []types.Log
		err := withRetry(ctx, r.logger, "filter logs "+blockRange.String(), r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = r.chain.FilterLogs(ctx, blockRange.From, blockRange.To, chunk, nil)
			return err
		})
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
	}
	return all, nil
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
