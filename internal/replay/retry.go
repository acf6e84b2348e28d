package replay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const maxRetryDelay = 30 * time.Second

// withRetry runs fn until it succeeds, retry reports false, or maxRetries is spent.
// The delay doubles after each attempt up to maxRetryDelay.
func withRetry(ctx context.Context, logger *zap.Logger, name string, maxRetries int, baseDelay time.Duration,
	retry func(error) bool, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || (retry != nil && !retry(err)) {
			return err
		}
		logger.Warn("retrying", zap.String("op", name), zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}
