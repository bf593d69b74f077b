package campaign

import (
	"sync"
	"time"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/internal/service/appointment"
	"github.com/jwalitptl/reschedule-agent/internal/service/loader"
	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
)

// Error messages surfaced to operators.
const (
	msgAlreadyRunning = "Calling process already in progress"
	msgNoPeople       = "No people data loaded"
	msgNoAppointments = "No appointments data loaded"
	msgNoFromNumber   = "No from_number provided. Please select a phone number."
	msgNotRunning     = "No calling process in progress"
	msgNoDateColumn   = "Appointments must have a date column"
)

// run is one campaign execution.
type run struct {
	id        string
	startedAt time.Time
	stop      chan struct{}
	stopped   bool
}

// Session is the single campaign workspace: uploaded people, the slot pool,
// learned schemas and the results of the latest run. Only one run may be
// active at a time.
type Session struct {
	mu      sync.RWMutex
	running *run
	lastRun string
	status  string
	people  []model.Person

	pool    *appointment.Pool
	schemas *loader.Schemas

	resultsMu sync.RWMutex
	results   []model.CallOutcome
}

func NewSession() *Session {
	return &Session{
		status:  model.StatusReady,
		pool:    appointment.NewPool(),
		schemas: loader.NewSchemas(),
	}
}

func (s *Session) Pool() *appointment.Pool {
	return s.pool
}

// LoadPeople replaces the call list. It is rejected while a run is active or
// when the columns differ from the first accepted upload.
func (s *Session) LoadPeople(t *loader.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		return apperrors.Conflict(msgAlreadyRunning)
	}
	if err := s.schemas.Validate(loader.DatasetPeople, t.Columns); err != nil {
		return err
	}
	s.people = t.People()
	s.schemas.Learn(loader.DatasetPeople, t.Columns)
	return nil
}

// LoadAppointments replaces the slot pool and resets its counters.
func (s *Session) LoadAppointments(t *loader.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		return apperrors.Conflict(msgAlreadyRunning)
	}
	if err := s.schemas.Validate(loader.DatasetAppointments, t.Columns); err != nil {
		return err
	}
	if !contains(t.Columns, model.ColSlotDate) {
		return apperrors.Validation(msgNoDateColumn)
	}
	s.pool.Load(t.Slots())
	s.schemas.Learn(loader.DatasetAppointments, t.Columns)
	return nil
}

// begin claims the session for a new run. All guards are checked under the
// same lock that marks the session running.
func (s *Session) begin(id, fromNumber string) (*run, []model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.running != nil:
		return nil, nil, apperrors.Conflict(msgAlreadyRunning)
	case len(s.people) == 0:
		return nil, nil, apperrors.Validation(msgNoPeople)
	case s.pool.Len() == 0:
		return nil, nil, apperrors.Validation(msgNoAppointments)
	case fromNumber == "":
		return nil, nil, apperrors.Validation(msgNoFromNumber)
	}

	r := &run{id: id, startedAt: time.Now(), stop: make(chan struct{})}
	s.running = r
	s.lastRun = id
	s.status = model.StatusStarting
	s.resetResults()

	people := make([]model.Person, len(s.people))
	copy(people, s.people)
	return r, people, nil
}

// finish releases the session. It is safe to call more than once.
func (s *Session) finish(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == r {
		s.running = nil
	}
	s.status = model.StatusReady
}

// LastRunID is the id of the run that owns the current results.
func (s *Session) LastRunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// Stop asks the active run not to dial anyone else.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return apperrors.Conflict(msgNotRunning)
	}
	if !s.running.stopped {
		s.running.stopped = true
		close(s.running.stop)
	}
	return nil
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running != nil
}

func (s *Session) appendResult(o model.CallOutcome) int {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	s.results = append(s.results, o)
	return len(s.results)
}

func (s *Session) resetResults() {
	s.resultsMu.Lock()
	s.results = nil
	s.resultsMu.Unlock()
}

// Results returns a copy of the recorded outcomes in append order.
func (s *Session) Results() []model.CallOutcome {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	out := make([]model.CallOutcome, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Session) ResultsCount() int {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	return len(s.results)
}

// Status returns a snapshot. It never waits on a running call.
func (s *Session) Status() model.Status {
	s.mu.RLock()
	running := s.running != nil
	status := s.status
	people := len(s.people)
	s.mu.RUnlock()

	return model.Status{
		IsCalling:                 running,
		CurrentStatus:             status,
		PeopleCount:               people,
		AppointmentsCount:         s.pool.Len(),
		OriginalAppointmentsCount: s.pool.OriginalCount(),
		RescheduledCount:          s.pool.RescheduledCount(),
		ResultsCount:              s.ResultsCount(),
		PeopleSchema:              s.schemas.Get(loader.DatasetPeople),
		AppointmentsSchema:        s.schemas.Get(loader.DatasetAppointments),
	}
}

func contains(cols []string, want string) bool {
	for _, c := range cols {
		if c == want {
			return true
		}
	}
	return false
}
