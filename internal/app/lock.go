package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// keepLock refreshes lock every ttl/3 until ctx is done. A refresh that
// finds the lock gone ends the run; other refresh errors are retried on the
// next tick.
func keepLock(ctx context.Context, lock domain.Lock, ttl time.Duration, logger *slog.Logger) error {
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(ctx, interval)
		err := lock.Refresh(rctx, ttl)
		cancel()
		switch {
		case err == nil:
			logger.DebugContext(ctx, "account lock refreshed")
		case errors.Is(err, domain.ErrLockLost):
			return fmt.Errorf("app: account lock: %w", err)
		case ctx.Err() != nil:
			return nil
		default:
			logger.WarnContext(ctx, "account lock refresh failed",
				slog.String("error", err.Error()),
			)
		}
	}
}
