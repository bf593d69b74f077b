package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/internal/service/appointment"
	"github.com/jwalitptl/reschedule-agent/internal/service/loader"
	"github.com/jwalitptl/reschedule-agent/internal/service/notification"
	"github.com/jwalitptl/reschedule-agent/internal/service/outcome"
	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
	"github.com/jwalitptl/reschedule-agent/pkg/metrics"
)

const (
	DefaultMaxWait         = 600 * time.Second
	DefaultRecoveryMaxWait = 120 * time.Second

	publishTimeout = 2 * time.Second

	msgNoMoreAppointments = "No more appointments available"
	msgAllCallsCompleted  = "All calls completed"
	msgCampaignStopped    = "Campaign stopped"
	msgCallNotFound       = "Call timed out or not found"
)

// CallService places calls and waits for them to finish.
type CallService interface {
	CreateCall(ctx context.Context, person model.Person, slots []model.AppointmentSlot, fromNumber string) (string, error)
	PollUntilEnded(ctx context.Context, callID string, maxWait time.Duration) (model.CallPayload, bool)
}

// Publisher receives a copy of every progress event.
// Publisher fans progress events out beyond the stream. Errors are advisory
// and never interrupt a campaign.
type Publisher interface {
	Emit(ctx context.Context, evt model.ProgressEvent) error
}

type Config struct {
	MaxCandidates   int
	MaxWait         time.Duration
	RecoveryMaxWait time.Duration
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithNotifier(n notification.Service) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service runs outbound reschedule campaigns over a Session.
type Service struct {
	session   *Session
	calls     CallService
	cfg       Config
	publisher Publisher
	notifier  notification.Service
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewService(session *Session, calls CallService, cfg Config, log *logger.Logger, opts ...Option) *Service {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = appointment.MaxCandidates
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.RecoveryMaxWait <= 0 {
		cfg.RecoveryMaxWait = DefaultRecoveryMaxWait
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		session: session,
		calls:   calls,
		cfg:     cfg,
		logger:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Session() *Session {
	return s.session
}

func (s *Service) UploadPeople(t *loader.Table) (model.UploadSummary, error) {
	if err := s.session.LoadPeople(t); err != nil {
		return model.UploadSummary{}, err
	}
	s.logger.Info("campaign.people.loaded", "rows", len(t.Rows))
	return model.UploadSummary{Dataset: string(loader.DatasetPeople), Rows: len(t.Rows), Columns: t.Columns}, nil
}

func (s *Service) UploadAppointments(t *loader.Table) (model.UploadSummary, error) {
	if err := s.session.LoadAppointments(t); err != nil {
		return model.UploadSummary{}, err
	}
	s.observePool()
	s.logger.Info("campaign.appointments.loaded", "rows", len(t.Rows))
	return model.UploadSummary{Dataset: string(loader.DatasetAppointments), Rows: len(t.Rows), Columns: t.Columns}, nil
}

func (s *Service) Status() model.Status {
	return s.session.Status()
}

func (s *Service) Results() []model.CallOutcome {
	return s.session.Results()
}

func (s *Service) Stop() error {
	if err := s.session.Stop(); err != nil {
		return err
	}
	s.logger.Info("campaign.stop.requested")
	return nil
}

// Start validates the session and launches a run. Progress events are
// delivered on the returned channel as they happen; it is closed once the
// session is back to Ready. Cancelling ctx stops the run before the next
// person, and events produced after that are dropped.
func (s *Service) Start(ctx context.Context, fromNumber string) (<-chan model.ProgressEvent, error) {
	r, people, err := s.session.begin(uuid.NewString(), fromNumber)
	if err != nil {
		return nil, fmt.Errorf("start campaign: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CampaignRunning.Set(1)
	}
	s.logger.Info("campaign.run.started", "run_id", r.id, "people", len(people))

	events := make(chan model.ProgressEvent)
	go s.run(ctx, r, people, fromNumber, events)
	return events, nil
}

func (s *Service) run(ctx context.Context, r *run, people []model.Person, fromNumber string, events chan<- model.ProgressEvent) {
	summary := model.CampaignSummary{
		RunID:     r.id,
		StartedAt: r.startedAt,
		Outcomes:  make(map[model.OutcomeTag]int),
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error(fmt.Errorf("%v", rec), "campaign.run.panic", "run_id", r.id)
			s.emit(ctx, r, events, model.ProgressEvent{Type: model.EventError, Error: "internal error"})
		}
		s.session.finish(r)
		if s.metrics != nil {
			s.metrics.CampaignRunning.Set(0)
			s.metrics.CampaignsFinished.Inc()
		}
		close(events)

		summary.FinishedAt = time.Now()
		summary.TotalCalls = s.session.ResultsCount()
		summary.Rescheduled = s.session.pool.RescheduledCount()
		summary.SlotsRemaining = s.session.pool.Len()
		s.logger.Info("campaign.run.finished", "run_id", r.id, "total_calls", summary.TotalCalls, "stopped", summary.Stopped)
		if s.notifier != nil {
			if err := s.notifier.CampaignFinished(context.WithoutCancel(ctx), summary); err != nil {
				s.logger.Warn("campaign.notify.failed", "run_id", r.id, "error", err.Error())
			}
		}
	}()

	record := func(o model.CallOutcome) {
		s.session.appendResult(o)
		summary.Outcomes[o.Outcome]++
		if s.metrics != nil {
			s.metrics.CallOutcomes.WithLabelValues(string(o.Outcome)).Inc()
		}
	}

	// Calls already placed run to completion even if the stream goes away.
	callCtx := context.WithoutCancel(ctx)
	pool := s.session.pool

	for _, person := range people {
		if s.stopRequested(ctx, r) {
			summary.Stopped = true
			break
		}
		if pool.Len() == 0 {
			s.emit(ctx, r, events, model.ProgressEvent{Type: model.EventComplete, Message: msgNoMoreAppointments})
			break
		}

		name := person.FullName()
		dob := person.DateOfBirth()
		current := person.CurrentAppointmentDate()

		candidates := pool.Candidates(current, s.cfg.MaxCandidates)
		if len(candidates) == 0 {
			s.emit(ctx, r, events, model.ProgressEvent{
				Type:    model.EventInfo,
				Person:  name,
				Message: outcome.NoEarlierMessage(current),
			})
			record(outcome.Skipped(name, dob, current))
			continue
		}

		s.session.setStatus("Calling " + name)
		s.emit(ctx, r, events, model.ProgressEvent{Type: model.EventCalling, Person: name, Phone: person.DisplayPhone()})

		callID, err := s.calls.CreateCall(callCtx, person, candidates, fromNumber)
		if err != nil {
			record(outcome.Failed(name, dob, err))
			s.emit(ctx, r, events, model.ProgressEvent{Type: model.EventError, Person: name, Error: err.Error()})
			continue
		}
		s.emit(ctx, r, events, model.ProgressEvent{Type: model.EventCallCreated, CallID: callID, Person: name})

		result := s.settle(callCtx, callID, name, dob, s.cfg.MaxWait)
		record(result)
		s.emit(ctx, r, events, model.ProgressEvent{Type: model.EventCallComplete, CallID: callID, Result: &result})
	}

	total := s.session.ResultsCount()
	msg := msgAllCallsCompleted
	if summary.Stopped {
		msg = msgCampaignStopped
	}
	s.emit(ctx, r, events, model.ProgressEvent{Type: model.EventComplete, Message: msg, TotalCalls: &total})
}

// settle waits for a placed call and turns it into an outcome, giving up the
// chosen slot when the person accepted one.
func (s *Service) settle(ctx context.Context, callID, name, dob string, maxWait time.Duration) model.CallOutcome {
	payload, ok := s.calls.PollUntilEnded(ctx, callID, maxWait)
	if !ok {
		o := outcome.Timeout(name, dob)
		o.CallID = callID
		return o
	}

	o := outcome.Classify(outcome.Extract(payload), name, dob)
	o.CallID = callID
	if o.AppointmentRescheduled && o.NewAppointmentDate != "" {
		if s.session.pool.FindAndRemove(o.NewAppointmentDate) {
			o.SlotRemoved = true
			s.observePool()
		} else {
			s.logger.Warn("campaign.slot.not_found", "call_id", callID)
		}
	}
	return o
}

// Recover settles a call whose stream was abandoned and appends its outcome
// to the current results.
func (s *Service) Recover(ctx context.Context, callID string) (model.CallOutcome, error) {
	if callID == "" {
		return model.CallOutcome{}, apperrors.Validation("call id is required")
	}
	payload, ok := s.calls.PollUntilEnded(ctx, callID, s.cfg.RecoveryMaxWait)
	if !ok {
		return model.CallOutcome{}, &apperrors.AppError{Code: apperrors.ErrNotFound, Message: msgCallNotFound}
	}

	o := outcome.Classify(outcome.Extract(payload), model.UnknownPatient, "")
	o.CallID = callID
	if o.AppointmentRescheduled && o.NewAppointmentDate != "" && s.session.pool.FindAndRemove(o.NewAppointmentDate) {
		o.SlotRemoved = true
		s.observePool()
	}
	s.session.appendResult(o)
	if s.metrics != nil {
		s.metrics.CallOutcomes.WithLabelValues(string(o.Outcome)).Inc()
	}
	s.publish(ctx, model.ProgressEvent{
		Type:   model.EventCallComplete,
		RunID:  s.session.LastRunID(),
		CallID: callID,
		Result: &o,
	})
	s.logger.Info("campaign.call.recovered", "call_id", callID, "outcome", string(o.Outcome))
	return o, nil
}

func (s *Service) stopRequested(ctx context.Context, r *run) bool {
	select {
	case <-r.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// emit hands evt to the stream consumer and the publisher. It returns false
// when the consumer is gone.
func (s *Service) emit(ctx context.Context, r *run, events chan<- model.ProgressEvent, evt model.ProgressEvent) bool {
	evt.RunID = r.id
	s.publish(ctx, evt)
	select {
	case events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) publish(ctx context.Context, evt model.ProgressEvent) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Emit(pubCtx, evt); err != nil {
		s.logger.Debug("campaign.event.publish_failed", "type", string(evt.Type), "call_id", evt.CallID, "error", err.Error())
	}
}

func (s *Service) observePool() {
	if s.metrics != nil {
		s.metrics.PoolRemaining.Set(float64(s.session.pool.Len()))
	}
}
