package cleanup

import (
	"context"
	"time"

	"github.com/italolelis/sgx_downloader/internal/logctx"
	"github.com/italolelis/sgx_downloader/internal/storage"
)

// PruneHistory deletes attempt ledger rows older than keepFor. Artifacts are
// never touched: they are the idempotency markers of past downloads.
func PruneHistory(ctx context.Context, repo storage.AttemptRepository, keepFor time.Duration, now time.Time) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if keepFor <= 0 {
		return 0, nil
	}

	cutoff := now.Add(-keepFor)

	removed, err := repo.PruneAttempts(ctx, cutoff)
	if err != nil {
		logger.Error("failed to prune attempt history", "cutoff", cutoff, "err", err)

		return 0, err
	}

	if removed > 0 {
		logger.Info("pruned attempt history", "removed", removed, "cutoff", cutoff)
	}

	return removed, nil
}

// Run prunes the history every interval until ctx is done. Failures are
// logged and retried on the next tick.
func Run(ctx context.Context, repo storage.AttemptRepository, interval, keepFor time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return nil
		case now := <-ticker.C:
			_, _ = PruneHistory(ctx, repo, keepFor, now)
		}
	}
}
