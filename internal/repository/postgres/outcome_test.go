package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

// Runs against a real database when ARCHIVE_TEST_DSN is set.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("ARCHIVE_TEST_DSN")
	if dsn == "" {
		t.Skip("ARCHIVE_TEST_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOutcomeRepository(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	base := NewBaseRepository(db)
	require.NoError(t, Migrate(ctx, base))
	_, err := db.ExecContext(ctx, `DELETE FROM call_outcomes`)
	require.NoError(t, err)

	repo := NewOutcomeRepository(base)
	require.NoError(t, repo.Ping(ctx))

	callID := "call-repo-test"
	outcome := &model.ArchivedOutcome{
		RunID:     "run-1",
		CallID:    &callID,
		Outcome:   string(model.OutcomeRescheduled),
		Payload:   json.RawMessage(`{"Outcome":"rescheduled"}`),
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, repo.Save(ctx, outcome))

	dup := *outcome
	dup.ID = uuid.Nil
	require.NoError(t, repo.Save(ctx, &dup))

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM call_outcomes`))
	assert.Equal(t, 1, count)

	deleted, err := repo.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSaveRejectsEmptyPayload(t *testing.T) {
	repo := NewOutcomeRepository(BaseRepository{})
	assert.Error(t, repo.Save(context.Background(), &model.ArchivedOutcome{RunID: "r"}))
	assert.Error(t, repo.Save(context.Background(), nil))
}
