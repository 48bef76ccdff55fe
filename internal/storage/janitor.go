package storage

import (
	"context"
	"log/slog"
	"time"
)

// RunJanitor evicts terminal jobs older than retention every interval until ctx is done
func RunJanitor(ctx context.Context, sweeper Sweeper, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 || interval <= 0 {
		logger.Info("Job retention disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Job janitor started",
		slog.Duration("retention", retention),
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Job janitor stopped")
			return
		case now := <-ticker.C:
			removed, err := sweeper.Sweep(ctx, now.Add(-retention))
			if err != nil {
				logger.Warn("Failed to sweep expired jobs",
					slog.String("error", err.Error()),
				)
				continue
			}
			if removed > 0 {
				logger.Info("Expired jobs removed",
					slog.Int("count", removed),
				)
			}
		}
	}
}
