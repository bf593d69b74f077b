package model

// OutcomeTag classifies how a single person's call ended.
type OutcomeTag string

const (
	OutcomeRescheduled    OutcomeTag = "rescheduled"
	OutcomeNoReschedule   OutcomeTag = "no_reschedule"
	OutcomeSkippedNoEarly OutcomeTag = "skipped_no_earlier_appointments"
	OutcomeTimeout        OutcomeTag = "timeout"
	OutcomeError          OutcomeTag = "error"
)

// UnknownPatient names outcomes recovered after the stream that placed the call went away.
const UnknownPatient = "Unknown (stopped mid-campaign)"

// CallOutcome is one row of the results table. It is appended once and never changed.
type CallOutcome struct {
	PatientName            string     `json:"Patient Name"`
	PatientDOB             string     `json:"Patient DOB"`
	CallSuccessful         bool       `json:"Call Successful"`
	InVoicemail            bool       `json:"In Voicemail"`
	UserSentiment          string     `json:"User Sentiment"`
	AppointmentConfirmed   string     `json:"Appointment Confirmed"`
	AppointmentRescheduled bool       `json:"Appointment Rescheduled"`
	NewAppointmentDate     string     `json:"New Appointment Date"`
	CallSummary            string     `json:"Call Summary"`
	DetailedCallSummary    string     `json:"Detailed Call Summary"`
	TodoList               string     `json:"To-do List"`
	AskedForDNC            bool       `json:"Asked for DNC"`
	RecordingURL           string     `json:"Recording URL"`
	Outcome                OutcomeTag `json:"Outcome"`
	SlotRemoved            bool       `json:"Appointment Slot Removed,omitempty"`
	CallID                 string     `json:"Call ID,omitempty"`
}

// OutcomeColumns is the column order used when exporting results.
var OutcomeColumns = []string{
	"Patient Name",
	"Patient DOB",
	"Call Successful",
	"In Voicemail",
	"User Sentiment",
	"Appointment Confirmed",
	"Appointment Rescheduled",
	"New Appointment Date",
	"Call Summary",
	"Detailed Call Summary",
	"To-do List",
	"Asked for DNC",
	"Recording URL",
	"Outcome",
	"Appointment Slot Removed",
	"Call ID",
}
