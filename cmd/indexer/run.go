package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"daoscope/internal/chain"
	"daoscope/internal/config"
	"daoscope/internal/indexer"
	"daoscope/internal/ingest"
	"daoscope/internal/ledger"
	"daoscope/internal/notify"
	"daoscope/internal/opsapi"
	"daoscope/internal/watch"
)

func runWatcher(cmd *cobra.Command, _ []string) (err error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRun(cfgFile, cmd.Flags())
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

	store, _, err := openStore(ctx, cfg.Store, logger)
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

	publisher, err := notify.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := publisher.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("nats: %w", cerr))
		}
	}()

	deps := ingest.Deps{
		Store:  store,
		Chain:  chainClient,
		Ledger: ledger.New(ledger.Options{}, logger),
		Logger: logger,
	}
	if publisher != nil {
		deps.Notifier = publisher
	}
	router, err := ingest.NewRouter(deps)
	if err != nil {
		return err
	}

	// Subscriptions outlive the signal context; they stop through Shutdown.
	registry, err := watch.NewRegistry(context.WithoutCancel(ctx), watch.Config{
		Source:       chainClient,
		Handler:      router,
		Lookup:       store,
		Subscription: watch.SubscriptionOptions{BatchMax: cfg.BatchMax},
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	router.UseDiscoverer(registry)

	targets, err := indexer.FactoryTargets(cfg.Factories.TokenFactories, cfg.Factories.DaoFactories, logger)
	if err != nil {
		return err
	}

	logger.Info("watcher start",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("store", cfg.Store.Kind),
		zap.Strings("token_factories", cfg.Factories.TokenFactories),
		zap.Strings("dao_factories", cfg.Factories.DaoFactories),
		zap.Bool("nats", publisher != nil),
	)

	var ops *opsapi.Server
	if cfg.MetricsAddr != "" {
		ops = opsapi.NewServer(cfg.MetricsAddr, registry, store, logger)
		ops.Start()
	}

	var errs []error
	if err := registry.Seed(ctx, targets, store); err != nil {
		logger.Error("seeding watches failed", zap.Error(err))
		errs = append(errs, err)
	} else {
		<-ctx.Done()
		logger.Info("shutdown requested", zap.Duration("grace", cfg.ShutdownGrace))
	}

	force := time.AfterFunc(cfg.ShutdownGrace+5*time.Second, func() {
		logger.Error("shutdown grace exceeded, exiting")
		_ = logger.Sync()
		os.Exit(2)
	})
	defer force.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("watch shutdown incomplete", zap.Error(err))
		errs = append(errs, err)
	}
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops server: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("watcher stopped")
	return nil
}
