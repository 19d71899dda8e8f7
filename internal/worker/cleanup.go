package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/meditrack/reminder-api/internal/repository"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/metrics"
)

// CleanupWorker purges terminal notifications past the retention
// horizon so the table stays bounded.
type CleanupWorker struct {
	repo          repository.NotificationRepository
	retentionDays int
	interval      time.Duration
	metrics       *metrics.Metrics
	logger        *logger.Logger
}

func NewCleanupWorker(repo repository.NotificationRepository, retentionDays int, interval time.Duration, m *metrics.Metrics, lg *logger.Logger) *CleanupWorker {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupWorker{
		repo:          repo,
		retentionDays: retentionDays,
		interval:      interval,
		metrics:       m,
		logger:        lg,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error(err, "notification cleanup failed")
			}
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) error {
	start := time.Now()
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old notifications: %w", err)
	}

	if w.metrics != nil {
		w.metrics.SweepDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds())
	}
	if rows > 0 {
		w.logger.Info("purged old notifications", "rows", rows, "cutoff", cutoff)
	}
	return nil
}
