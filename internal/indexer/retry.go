package indexer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const maxRetryDelay = 30 * time.Second

// withRetry runs fn until it succeeds, maxRetries extra attempts are spent, or ctx ends.
// The delay doubles after each failure up to maxRetryDelay. Context errors from fn are
// returned immediately.
func withRetry(ctx context.Context, logger *zap.Logger, op string, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || attempt > maxRetries {
			return err
		}
		logger.Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(delay*2, maxRetryDelay)
	}
}
