package model

// EventType names a progress event on the campaign stream.
type EventType string

const (
	EventCalling      EventType = "calling"
	EventCallCreated  EventType = "call_created"
	EventCallComplete EventType = "call_complete"
	EventInfo         EventType = "info"
	EventError        EventType = "error"
	EventComplete     EventType = "complete"
)

// ProgressEvent is emitted by a running campaign. Only the fields relevant to
// the event type are set.
type ProgressEvent struct {
	Type       EventType    `json:"type"`
	RunID      string       `json:"run_id,omitempty"`
	Person     string       `json:"person,omitempty"`
	Phone      string       `json:"phone,omitempty"`
	CallID     string       `json:"call_id,omitempty"`
	Message    string       `json:"message,omitempty"`
	Error      string       `json:"error,omitempty"`
	Result     *CallOutcome `json:"result,omitempty"`
	TotalCalls *int         `json:"total_calls,omitempty"`
}
