package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/reschedule-agent/pkg/logger"
)

// Pruner deletes archived rows older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RetentionWorker periodically drops archived outcomes past the retention window.
type RetentionWorker struct {
	repo            Pruner
	retentionDays   int
	cleanupInterval time.Duration
	logger          *logger.Logger
	now             func() time.Time
}

func NewRetentionWorker(repo Pruner, retentionDays int, cleanupInterval time.Duration, log *logger.Logger) *RetentionWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &RetentionWorker{
		repo:            repo,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		logger:          log,
		now:             time.Now,
	}
}

func (w *RetentionWorker) Start(ctx context.Context) {
	if w.retentionDays <= 0 || w.cleanupInterval <= 0 {
		w.logger.Info("Archive retention disabled")
		return
	}

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "Archive cleanup failed")
			}
		}
	}
}

// Cleanup removes everything older than the retention window once.
func (w *RetentionWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up archived outcomes: %w", err)
	}

	w.logger.Info("Cleaned up archived outcomes", "rows", rows, "cutoff", cutoff)
	return rows, nil
}
