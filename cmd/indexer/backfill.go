package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"daoscope/internal/chain"
	"daoscope/internal/config"
	"daoscope/internal/indexer"
	"daoscope/internal/ingest"
	"daoscope/internal/ledger"
	"daoscope/internal/storage"
)

func runBackfill(cmd *cobra.Command, _ []string) (err error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadBackfill(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, pg, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("store: %w", cerr))
		}
	}()

	chainClient, err := chain.NewClient(ctx, cfg.Chain.RPCURL, chain.Options{
		LookupRPS:   cfg.Chain.TxLookupRPS,
		LookupBurst: cfg.Chain.TxLookupBurst,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	router, err := ingest.NewRouter(ingest.Deps{
		Store:  store,
		Chain:  chainClient,
		Ledger: ledger.New(ledger.Options{}, logger),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	var checkpoint indexer.Checkpointer
	switch {
	case !cfg.CheckpointEnabled:
		checkpoint = indexer.NewFileCheckpoint("", false)
	case pg != nil:
		checkpoint = indexer.NewStateCheckpoint(pg, cfg.Checkpoint)
	default:
		checkpoint = indexer.NewFileCheckpoint(cfg.Checkpoint, true)
	}

	targets, err := indexer.FactoryTargets(cfg.Factories.TokenFactories, cfg.Factories.DaoFactories, logger)
	if err != nil {
		return err
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		Factories:    targets,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, router, store, checkpoint, logger)
	router.UseDiscoverer(runner)

	logger.Info("backfill start",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("store", cfg.Store.Kind),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int("ranges", summary.Ranges),
		zap.Int("logs", summary.Logs),
		zap.Int("discovered", summary.Discovered),
	}
	for res, n := range summary.Results {
		fields = append(fields, zap.Int(res.String(), n))
	}
	logger.Info("backfill done", fields...)

	return checkConservation(ctx, store, logger)
}

func checkConservation(ctx context.Context, store storage.Store, logger *zap.Logger) error {
	tokens, err := store.ListTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	unbalanced := 0
	for _, t := range tokens {
		c, err := ledger.CheckConservation(ctx, store, t.ContractAddress)
		if err != nil {
			return err
		}
		if !c.Balanced() {
			unbalanced++
			logger.Warn("token supply does not match holder balances",
				zap.String("token", c.Token),
				zap.String("supply", c.Supply.String()),
				zap.String("sum", c.Sum.String()),
				zap.Int("holders", c.Holders),
			)
		}
	}
	logger.Info("conservation check", zap.Int("tokens", len(tokens)), zap.Int("unbalanced", unbalanced))
	return nil
}
