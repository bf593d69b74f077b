package outcome

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

// Keys of the call analysis returned by the calling service.
const (
	keyCallAnalysis   = "call_analysis"
	keyCustomAnalysis = "custom_analysis_data"
	keyRecordingURL   = "recording_url"

	keyCallSummary    = "call_summary"
	keyCallSuccessful = "call_successful"
	keyInVoicemail    = "in_voicemail"
	keyUserSentiment  = "user_sentiment"

	keyRescheduled     = "Appointment Rescheduled"
	keyNewDate         = "New Appointment Date"
	keyConfirmed       = "Appointment Confirmed"
	keyDetailedSummary = "Detailed Call Summary"
	keyPatientName     = "Patient Full Name"
	keyPatientDOB      = "Patient DOB"
	keyTodoList        = "To-do List"
	keyAskedForDNC     = "Asked for DNC?"
)

// Analysis is the structured view of a finished call.
type Analysis struct {
	CallSummary            string
	CallSuccessful         bool
	InVoicemail            bool
	UserSentiment          string
	AppointmentRescheduled bool
	NewAppointmentDate     string
	AppointmentConfirmed   string
	DetailedCallSummary    string
	PatientName            string
	PatientDOB             string
	TodoList               string
	AskedForDNC            bool
	RecordingURL           string
}

// Extract reads the analysis sections of a call payload. It never fails:
// missing or wrongly typed sections leave the zero value.
func Extract(payload model.CallPayload) Analysis {
	var a Analysis
	if payload == nil {
		return a
	}

	a.RecordingURL = Text(payload[keyRecordingURL])

	analysis, _ := payload[keyCallAnalysis].(map[string]interface{})
	if analysis == nil {
		return a
	}
	a.CallSummary = Text(analysis[keyCallSummary])
	a.CallSuccessful = CoerceBool(analysis[keyCallSuccessful])
	a.InVoicemail = CoerceBool(analysis[keyInVoicemail])
	a.UserSentiment = Text(analysis[keyUserSentiment])

	custom, _ := analysis[keyCustomAnalysis].(map[string]interface{})
	if custom == nil {
		return a
	}
	a.AppointmentRescheduled = CoerceBool(custom[keyRescheduled])
	a.NewAppointmentDate = strings.TrimSpace(Text(custom[keyNewDate]))
	a.AppointmentConfirmed = Text(custom[keyConfirmed])
	a.DetailedCallSummary = Text(custom[keyDetailedSummary])
	a.PatientName = Text(custom[keyPatientName])
	a.PatientDOB = Text(custom[keyPatientDOB])
	a.TodoList = Text(custom[keyTodoList])
	a.AskedForDNC = CoerceBool(custom[keyAskedForDNC])
	return a
}

// CoerceBool interprets the loosely typed flags the voice agent reports.
func CoerceBool(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true
		}
		return false
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32:
		return rv.Float() != 0
	}
	return true
}

// Text renders a free-text field. Lists are joined with "; ".
func Text(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, Text(item))
		}
		return strings.Join(parts, "; ")
	case []string:
		return strings.Join(val, "; ")
	}
	return model.Stringify(v)
}

// Classify turns an analysis into the outcome row for a person.
func Classify(a Analysis, patientName, fallbackDOB string) model.CallOutcome {
	dob := a.PatientDOB
	if dob == "" {
		dob = fallbackDOB
	}
	tag := model.OutcomeNoReschedule
	if a.AppointmentRescheduled {
		tag = model.OutcomeRescheduled
	}
	return model.CallOutcome{
		PatientName:            patientName,
		PatientDOB:             dob,
		CallSuccessful:         a.CallSuccessful,
		InVoicemail:            a.InVoicemail,
		UserSentiment:          a.UserSentiment,
		AppointmentConfirmed:   a.AppointmentConfirmed,
		AppointmentRescheduled: a.AppointmentRescheduled,
		NewAppointmentDate:     a.NewAppointmentDate,
		CallSummary:            a.CallSummary,
		DetailedCallSummary:    a.DetailedCallSummary,
		TodoList:               a.TodoList,
		AskedForDNC:            a.AskedForDNC,
		RecordingURL:           a.RecordingURL,
		Outcome:                tag,
	}
}

// Timeout is the outcome recorded when a call never reached a terminal state.
func Timeout(patientName, dob string) model.CallOutcome {
	return model.CallOutcome{
		PatientName: patientName,
		PatientDOB:  dob,
		CallSummary: "Call timed out",
		Outcome:     model.OutcomeTimeout,
	}
}

// Failed is the outcome recorded when a call could not be placed.
func Failed(patientName, dob string, err error) model.CallOutcome {
	return model.CallOutcome{
		PatientName: patientName,
		PatientDOB:  dob,
		CallSummary: fmt.Sprintf("Error: %v", err),
		Outcome:     model.OutcomeError,
	}
}

// Skipped is the outcome recorded when no earlier slot exists for a person.
func Skipped(patientName, dob, currentDate string) model.CallOutcome {
	return model.CallOutcome{
		PatientName: patientName,
		PatientDOB:  dob,
		CallSummary: fmt.Sprintf("Skipped - %s", NoEarlierMessage(currentDate)),
		Outcome:     model.OutcomeSkippedNoEarly,
	}
}

func NoEarlierMessage(currentDate string) string {
	return fmt.Sprintf("No earlier appointments available (current: %s)", currentDate)
}
