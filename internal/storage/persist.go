package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"daoscope/internal/metrics"
	"daoscope/internal/model"
)

// Persister turns validated rows into insert-or-ignore writes. Every write path for
// transactions, tokens and DAOs goes through it so duplicate delivery is a no-op.
type Persister struct {
	logger *zap.Logger
}

func NewPersister(logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{logger: logger}
}

// InsertIfAbsent writes row unless a row with the same unique key already exists.
func (p *Persister) InsertIfAbsent(ctx context.Context, tx Tx, row model.Row) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	switch r := row.(type) {
	case *model.TransactionRecord:
		outcome, err = tx.InsertTransaction(ctx, r)
	case *model.TokenRecord:
		outcome, err = tx.InsertToken(ctx, r)
	case *model.DaoRecord:
		outcome, err = tx.InsertDao(ctx, r)
	case *model.ProcessedLog:
		outcome, err = tx.MarkLogProcessed(ctx, r)
	default:
		return 0, fmt.Errorf("unsupported row type %T", row)
	}
	if err != nil {
		metrics.PersistTotal.WithLabelValues(row.Table(), "error").Inc()
		return 0, fmt.Errorf("insert %s %s: %w", row.Table(), row.UniqueKey(), err)
	}

	metrics.PersistTotal.WithLabelValues(row.Table(), outcome.String()).Inc()
	if outcome == Skipped {
		p.logger.Debug("row already present",
			zap.String("table", row.Table()),
			zap.String("key", row.UniqueKey()),
		)
	}
	return outcome, nil
}
