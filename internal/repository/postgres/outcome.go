package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/internal/repository"
)

// Schema expected by the archive repository.
const Schema = `
CREATE TABLE IF NOT EXISTS call_outcomes (
	id          UUID PRIMARY KEY,
	run_id      TEXT NOT NULL,
	call_id     TEXT,
	outcome     TEXT NOT NULL,
	payload     BYTEA NOT NULL,
	encrypted   BOOLEAN NOT NULL DEFAULT FALSE,
	retry_count INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS call_outcomes_call_id_idx ON call_outcomes (call_id) WHERE call_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS call_outcomes_created_at_idx ON call_outcomes (created_at);
`

type outcomeRepository struct {
	BaseRepository
}

func NewOutcomeRepository(base BaseRepository) repository.OutcomeArchiveRepository {
	return &outcomeRepository{base}
}

// Migrate creates the archive table when missing.
func Migrate(ctx context.Context, base BaseRepository) error {
	if _, err := base.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

func (r *outcomeRepository) Save(ctx context.Context, outcome *model.ArchivedOutcome) error {
	if outcome == nil {
		return fmt.Errorf("outcome cannot be nil")
	}
	if len(outcome.Payload) == 0 {
		return fmt.Errorf("outcome payload cannot be empty")
	}
	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO call_outcomes (
			id, run_id, call_id, outcome, payload, encrypted, retry_count, created_at
		) VALUES (
			:id, :run_id, :call_id, :outcome, :payload, :encrypted, :retry_count, :created_at
		)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, outcome); err != nil {
		return fmt.Errorf("failed to archive outcome: %w", err)
	}
	return nil
}

func (r *outcomeRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM call_outcomes WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived outcomes: %w", err)
	}
	return result.RowsAffected()
}
