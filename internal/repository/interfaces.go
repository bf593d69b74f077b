package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

type (
	// OutcomeArchiveRepository stores call outcomes received from the
	// progress channel.
	OutcomeArchiveRepository interface {
		// Save is idempotent per call id; a repeated delivery is not an error.
		Save(ctx context.Context, outcome *model.ArchivedOutcome) error
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
		Ping(ctx context.Context) error
	}
)
