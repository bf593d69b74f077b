package repository

import (
	"context"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

// ArchiveWriter is the part of the archive store the worker needs.
type ArchiveWriter interface {
	Save(ctx context.Context, outcome *model.ArchivedOutcome) error
}
