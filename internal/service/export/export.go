package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
)

// ErrNoResults is returned when there is nothing to export.
var ErrNoResults = apperrors.Validation("No results available")

// FileName is the download name for an export taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("call_results_%s.csv", t.Format("20060102_150405"))
}

// WriteCSV writes results as a CSV table with a header row.
func WriteCSV(w io.Writer, results []model.CallOutcome) error {
	if len(results) == 0 {
		return ErrNoResults
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(model.OutcomeColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range results {
		if err := cw.Write(record(r)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func record(r model.CallOutcome) []string {
	return []string{
		r.PatientName,
		r.PatientDOB,
		strconv.FormatBool(r.CallSuccessful),
		strconv.FormatBool(r.InVoicemail),
		r.UserSentiment,
		r.AppointmentConfirmed,
		strconv.FormatBool(r.AppointmentRescheduled),
		r.NewAppointmentDate,
		r.CallSummary,
		r.DetailedCallSummary,
		r.TodoList,
		strconv.FormatBool(r.AskedForDNC),
		r.RecordingURL,
		string(r.Outcome),
		strconv.FormatBool(r.SlotRemoved),
		r.CallID,
	}
}
