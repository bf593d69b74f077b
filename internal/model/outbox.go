package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ArchivedOutcome is a call outcome persisted by the archive worker.
type ArchivedOutcome struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	RunID      string          `db:"run_id" json:"run_id"`
	CallID     *string         `db:"call_id" json:"call_id,omitempty"`
	Outcome    string          `db:"outcome" json:"outcome"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Encrypted  bool            `db:"encrypted" json:"encrypted"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
}
