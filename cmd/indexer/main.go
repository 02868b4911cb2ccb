package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"daoscope/internal/config"
	"daoscope/internal/storage"
	pebblestore "daoscope/internal/storage/pebble"
	"daoscope/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Factory-driven token and DAO event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Watch factories and their children live",
		RunE:  runWatcher,
	}
	addCommonFlags(runCmd)
	runCmd.Flags().Duration("shutdown-grace", 15*time.Second, "time allowed for subscriptions to stop on shutdown")
	runCmd.Flags().String("metrics-addr", ":9102", "ops server listen address (empty disables)")
	runCmd.Flags().Int("batch-max", 256, "maximum logs drained per subscription batch")
	runCmd.Flags().String("nats-url", "", "NATS server URL for event notifications (empty disables)")
	runCmd.Flags().String("nats-subject", "daoscope.events", "NATS subject prefix")
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Replay historical factory and child logs through the pipeline",
		RunE:  runBackfill,
	}
	addCommonFlags(backfillCmd)
	backfillCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	backfillCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	backfillCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	backfillCmd.Flags().String("checkpoint", "./data/backfill.json", "checkpoint file path, or state name for the postgres store")
	backfillCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	backfillCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	backfillCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	root.AddCommand(backfillCmd)

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the postgres tables and indexes",
		RunE:  runSchema,
	}
	schemaCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	schemaCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(schemaCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL (ws or ipc for live subscriptions)")
	cmd.Flags().StringSlice("token-factory", nil, "token factory addresses (comma-separated)")
	cmd.Flags().StringSlice("dao-factory", nil, "DAO factory addresses (comma-separated)")
	cmd.Flags().String("store", config.StorePostgres, "store backend (postgres, pebble)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("pebble-dir", "./data/pebble", "pebble data directory")
	cmd.Flags().Bool("ensure-schema", false, "create postgres tables on startup")
	cmd.Flags().Float64("tx-lookup-rps", 20, "transaction and header lookups per second (0 means unlimited)")
	cmd.Flags().Int("tx-lookup-burst", 5, "lookup burst size")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// openStore returns the selected store. pg is non-nil only for the postgres backend.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store storage.Store, pg *postgres.Store, err error) {
	switch cfg.Kind {
	case config.StorePebble:
		s, err := pebblestore.Open(cfg.PebbleDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open pebble: %w", err)
		}
		logger.Info("store opened", zap.String("store", cfg.Kind), zap.String("dir", cfg.PebbleDir))
		return s, nil, nil
	default:
		s, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				_ = s.Close()
				return nil, nil, err
			}
		}
		logger.Info("store opened", zap.String("store", cfg.Kind), zap.Bool("ensure_schema", cfg.EnsureSchema))
		return s, s, nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
