package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteCSV(&buf, nil), ErrNoResults)
	assert.Zero(t, buf.Len())
}

func TestWriteCSV(t *testing.T) {
	results := []model.CallOutcome{
		{PatientName: "Ada Lovelace", AppointmentRescheduled: true, NewAppointmentDate: "2025-03-01", Outcome: model.OutcomeRescheduled, SlotRemoved: true, CallID: "call_1", AppointmentConfirmed: "Confirmed"},
		{PatientName: "Grace Hopper", CallSummary: "Skipped, see notes", Outcome: model.OutcomeSkippedNoEarly},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, results))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, model.OutcomeColumns, rows[0])
	assert.Equal(t, "Ada Lovelace", rows[1][0])
	assert.Equal(t, "Confirmed", rows[1][5])
	assert.Equal(t, "true", rows[1][6])
	assert.Equal(t, "rescheduled", rows[1][13])
	assert.Equal(t, "Skipped, see notes", rows[2][8])
}

func TestFileName(t *testing.T) {
	ts := time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "call_results_20250301_140509.csv", FileName(ts))
}
