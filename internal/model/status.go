package model

import "time"

// Status texts reported while idle and at the start of a run. A running
// campaign reports "Calling <name>" between these.
const (
	StatusReady    = "Ready"
	StatusStarting = "Starting"
)

// Status is a point-in-time snapshot of the session.
type Status struct {
	IsCalling                 bool     `json:"is_calling"`
	CurrentStatus             string   `json:"current_status"`
	PeopleCount               int      `json:"people_count"`
	AppointmentsCount         int      `json:"appointments_count"`
	OriginalAppointmentsCount int      `json:"original_appointments_count"`
	RescheduledCount          int      `json:"rescheduled_count"`
	ResultsCount              int      `json:"results_count"`
	PeopleSchema              []string `json:"people_schema"`
	AppointmentsSchema        []string `json:"appointments_schema"`
}

// UploadSummary is returned after a dataset is accepted.
type UploadSummary struct {
	Dataset string   `json:"dataset"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
}

// CampaignSummary describes a finished run. It carries counts only.
type CampaignSummary struct {
	RunID          string             `json:"run_id"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
	TotalCalls     int                `json:"total_calls"`
	Outcomes       map[OutcomeTag]int `json:"outcomes"`
	Rescheduled    int                `json:"rescheduled"`
	SlotsRemaining int                `json:"slots_remaining"`
	Stopped        bool               `json:"stopped"`
}
