package campaign

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/internal/service/loader"
	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCalls struct {
	mu       sync.Mutex
	created  []string
	payloads map[string]model.CallPayload
	failFor  map[string]error
	panicFor string

	// When set, PollUntilEnded announces the call id on polling and waits on gate.
	polling chan string
	gate    chan struct{}
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{
		payloads: make(map[string]model.CallPayload),
		failFor:  make(map[string]error),
	}
}

func (f *fakeCalls) CreateCall(_ context.Context, person model.Person, slots []model.AppointmentSlot, _ string) (string, error) {
	phone := person.Phone()
	if phone == f.panicFor {
		panic("dialer exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[phone]; err != nil {
		return "", err
	}
	f.created = append(f.created, phone)
	return "call-" + phone, nil
}

func (f *fakeCalls) PollUntilEnded(ctx context.Context, callID string, _ time.Duration) (model.CallPayload, bool) {
	if f.polling != nil {
		f.polling <- callID
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payloads[callID]
	return p, ok
}

func (f *fakeCalls) dialed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func rescheduled(date string) model.CallPayload {
	return model.CallPayload{
		"call_status":   "ended",
		"recording_url": "https://recordings.example/1.wav",
		"call_analysis": map[string]interface{}{
			"call_successful": true,
			"custom_analysis_data": map[string]interface{}{
				"Appointment Rescheduled": "yes",
				"New Appointment Date":    date,
			},
		},
	}
}

func declined() model.CallPayload {
	return model.CallPayload{
		"call_status": "ended",
		"call_analysis": map[string]interface{}{
			"call_summary": "Patient kept the original appointment.",
		},
	}
}

func table(rows ...model.JSONMap) *loader.Table {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return &loader.Table{Columns: cols, Rows: rows}
}

func person(first, phone, current string) model.JSONMap {
	return model.JSONMap{
		model.ColPatientFirst:    first,
		model.ColPatientLast:     "Test",
		model.ColDateOfBirth:     "1990-01-01",
		model.ColPhoneNumber:     phone,
		model.ColAppointmentDate: current,
	}
}

func slot(date string) model.JSONMap {
	return model.JSONMap{model.ColSlotDate: date}
}

func setup(t *testing.T, calls *fakeCalls, people []model.JSONMap, slots []model.JSONMap) *Service {
	t.Helper()
	svc := NewService(NewSession(), calls, Config{}, nil)
	if len(people) > 0 {
		_, err := svc.UploadPeople(table(people...))
		require.NoError(t, err)
	}
	if len(slots) > 0 {
		_, err := svc.UploadAppointments(table(slots...))
		require.NoError(t, err)
	}
	return svc
}

func collect(t *testing.T, events <-chan model.ProgressEvent) []model.ProgressEvent {
	t.Helper()
	var out []model.ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatal("campaign did not finish")
			return out
		}
	}
}

// drain is collect for use off the test goroutine.
func drain(events <-chan model.ProgressEvent) []model.ProgressEvent {
	var out []model.ProgressEvent
	for evt := range events {
		out = append(out, evt)
	}
	return out
}

func types(events []model.ProgressEvent) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func slotDates(svc *Service) []string {
	var out []string
	for _, s := range svc.Session().Pool().Snapshot() {
		out = append(out, s.Date())
	}
	return out
}

func TestStartGuards(t *testing.T) {
	calls := newFakeCalls()

	svc := setup(t, calls, nil, []model.JSONMap{slot("2025-03-01")})
	_, err := svc.Start(context.Background(), "+15550199")
	assert.EqualError(t, err, "start campaign: "+msgNoPeople)
	assert.Equal(t, http.StatusBadRequest, apperrors.StatusOf(err))

	svc = setup(t, calls, []model.JSONMap{person("Ada", "+15550100", "2025-03-10")}, nil)
	_, err = svc.Start(context.Background(), "+15550199")
	assert.EqualError(t, err, "start campaign: "+msgNoAppointments)

	svc = setup(t, calls, []model.JSONMap{person("Ada", "+15550100", "2025-03-10")}, []model.JSONMap{slot("2025-03-01")})
	_, err = svc.Start(context.Background(), "")
	assert.EqualError(t, err, "start campaign: "+msgNoFromNumber)

	st := svc.Status()
	assert.False(t, st.IsCalling)
	assert.Equal(t, model.StatusReady, st.CurrentStatus)
	assert.Empty(t, calls.dialed())
}

func TestStartRejectedWhileRunning(t *testing.T) {
	calls := newFakeCalls()
	calls.polling = make(chan string, 1)
	calls.gate = make(chan struct{})
	calls.payloads["call-+15550100"] = declined()

	svc := setup(t, calls,
		[]model.JSONMap{person("Ada", "+15550100", "2025-03-10")},
		[]model.JSONMap{slot("2025-03-01")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)

	// Drain in the background so the run can progress to the poll.
	done := make(chan []model.ProgressEvent)
	go func() { done <- drain(events) }()
	<-calls.polling

	_, err = svc.Start(context.Background(), "+15550199")
	assert.ErrorIs(t, err, &apperrors.AppError{Code: apperrors.ErrConflict})

	_, err = svc.UploadPeople(table(person("Bob", "+15550101", "")))
	assert.ErrorIs(t, err, &apperrors.AppError{Code: apperrors.ErrConflict})
	_, err = svc.UploadAppointments(table(slot("2025-03-02")))
	assert.ErrorIs(t, err, &apperrors.AppError{Code: apperrors.ErrConflict})

	st := svc.Status()
	assert.True(t, st.IsCalling)
	assert.Equal(t, "Calling Ada Test", st.CurrentStatus)
	assert.Equal(t, 1, st.AppointmentsCount)

	close(calls.gate)
	<-done
	assert.False(t, svc.Status().IsCalling)
}

func TestEndToEndReschedule(t *testing.T) {
	calls := newFakeCalls()
	calls.payloads["call-+15550100"] = rescheduled("2025-03-01")

	svc := setup(t, calls,
		[]model.JSONMap{person("Ada", "+15550100", "2025-03-10")},
		[]model.JSONMap{slot("2025-03-01"), slot("2025-03-05")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	got := collect(t, events)

	assert.Equal(t, []model.EventType{
		model.EventCalling, model.EventCallCreated, model.EventCallComplete, model.EventComplete,
	}, types(got))
	assert.Equal(t, "Ada Test", got[0].Person)
	assert.Equal(t, "+15550100", got[0].Phone)
	assert.Equal(t, "call-+15550100", got[1].CallID)
	require.NotNil(t, got[2].Result)
	assert.Equal(t, model.OutcomeRescheduled, got[2].Result.Outcome)
	assert.True(t, got[2].Result.SlotRemoved)
	assert.Equal(t, "1990-01-01", got[2].Result.PatientDOB)
	assert.Equal(t, msgAllCallsCompleted, got[3].Message)
	require.NotNil(t, got[3].TotalCalls)
	assert.Equal(t, 1, *got[3].TotalCalls)
	for _, e := range got {
		assert.NotEmpty(t, e.RunID)
		assert.Equal(t, got[0].RunID, e.RunID)
	}

	assert.Equal(t, []string{"2025-03-05"}, slotDates(svc))
	st := svc.Status()
	assert.Equal(t, 1, st.RescheduledCount)
	assert.Equal(t, 2, st.OriginalAppointmentsCount)
	assert.Equal(t, 1, st.ResultsCount)
	assert.Equal(t, model.StatusReady, st.CurrentStatus)
	assert.False(t, st.IsCalling)
}

func TestSkipWhenNoEarlierSlot(t *testing.T) {
	calls := newFakeCalls()
	svc := setup(t, calls,
		[]model.JSONMap{person("Ada", "+15550100", "2025-03-01")},
		[]model.JSONMap{slot("2025-03-05")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	got := collect(t, events)

	assert.Equal(t, []model.EventType{model.EventInfo, model.EventComplete}, types(got))
	assert.Equal(t, "No earlier appointments available (current: 2025-03-01)", got[0].Message)
	assert.Empty(t, calls.dialed())

	results := svc.Results()
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeSkippedNoEarly, results[0].Outcome)
	assert.Equal(t, "Skipped - No earlier appointments available (current: 2025-03-01)", results[0].CallSummary)
}

func TestPoolExhaustionEndsRun(t *testing.T) {
	calls := newFakeCalls()
	calls.payloads["call-+15550100"] = rescheduled("03/01/2025")

	svc := setup(t, calls,
		[]model.JSONMap{
			person("Ada", "+15550100", "2025-03-10"),
			person("Bob", "+15550101", "2025-03-10"),
		},
		[]model.JSONMap{slot("2025-03-01 09:00")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	got := collect(t, events)

	assert.Equal(t, []model.EventType{
		model.EventCalling, model.EventCallCreated, model.EventCallComplete, model.EventComplete, model.EventComplete,
	}, types(got))
	assert.Equal(t, msgNoMoreAppointments, got[3].Message)
	assert.Equal(t, msgAllCallsCompleted, got[4].Message)
	assert.Equal(t, 1, *got[4].TotalCalls)
	assert.Equal(t, []string{"+15550100"}, calls.dialed())
}

func TestCreateCallFailureContinues(t *testing.T) {
	calls := newFakeCalls()
	calls.failFor["+15550100"] = errors.New("create call failed with status 500")
	calls.payloads["call-+15550101"] = declined()

	svc := setup(t, calls,
		[]model.JSONMap{
			person("Ada", "+15550100", ""),
			person("Bob", "+15550101", ""),
		},
		[]model.JSONMap{slot("2025-03-01")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	got := collect(t, events)

	assert.Equal(t, []model.EventType{
		model.EventCalling, model.EventError,
		model.EventCalling, model.EventCallCreated, model.EventCallComplete,
		model.EventComplete,
	}, types(got))
	assert.Equal(t, "create call failed with status 500", got[1].Error)

	results := svc.Results()
	require.Len(t, results, 2)
	assert.Equal(t, model.OutcomeError, results[0].Outcome)
	assert.Equal(t, "Error: create call failed with status 500", results[0].CallSummary)
	assert.Equal(t, model.OutcomeNoReschedule, results[1].Outcome)
	assert.Equal(t, []string{"2025-03-01"}, slotDates(svc))
}

func TestTimeoutOutcome(t *testing.T) {
	calls := newFakeCalls()
	svc := setup(t, calls,
		[]model.JSONMap{person("Ada", "+15550100", "")},
		[]model.JSONMap{slot("2025-03-01")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	collect(t, events)

	results := svc.Results()
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeTimeout, results[0].Outcome)
	assert.Equal(t, "Call timed out", results[0].CallSummary)
	assert.Equal(t, 1, svc.Status().AppointmentsCount)
}

func TestRescheduledButSlotGoneStaysRescheduled(t *testing.T) {
	calls := newFakeCalls()
	calls.payloads["call-+15550100"] = rescheduled("2025-02-14")

	svc := setup(t, calls,
		[]model.JSONMap{person("Ada", "+15550100", "2025-03-10")},
		[]model.JSONMap{slot("2025-03-01")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	collect(t, events)

	results := svc.Results()
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeRescheduled, results[0].Outcome)
	assert.False(t, results[0].SlotRemoved)
	assert.Equal(t, 0, svc.Status().RescheduledCount)
}

func TestStopPreventsNextPerson(t *testing.T) {
	calls := newFakeCalls()
	calls.polling = make(chan string, 1)
	calls.gate = make(chan struct{})
	calls.payloads["call-+15550100"] = rescheduled("2025-03-01")

	svc := setup(t, calls,
		[]model.JSONMap{
			person("Ada", "+15550100", ""),
			person("Bob", "+15550101", ""),
		},
		[]model.JSONMap{slot("2025-03-01"), slot("2025-03-02")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	done := make(chan []model.ProgressEvent)
	go func() { done <- drain(events) }()

	<-calls.polling
	require.NoError(t, svc.Stop())
	close(calls.gate)
	got := <-done

	assert.Equal(t, []string{"+15550100"}, calls.dialed())
	last := got[len(got)-1]
	assert.Equal(t, model.EventComplete, last.Type)
	assert.Equal(t, msgCampaignStopped, last.Message)
	assert.Len(t, svc.Results(), 1)
	assert.Equal(t, []string{"2025-03-02"}, slotDates(svc))

	assert.ErrorIs(t, svc.Stop(), &apperrors.AppError{Code: apperrors.ErrConflict})
}

func TestConsumerDisconnectRecordsInFlightCall(t *testing.T) {
	calls := newFakeCalls()
	calls.polling = make(chan string, 1)
	calls.gate = make(chan struct{})
	calls.payloads["call-+15550100"] = declined()

	svc := setup(t, calls,
		[]model.JSONMap{
			person("Ada", "+15550100", ""),
			person("Bob", "+15550101", ""),
		},
		[]model.JSONMap{slot("2025-03-01")})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.Start(ctx, "+15550199")
	require.NoError(t, err)

	// Read until the call is being polled, then walk away.
	go func() {
		for range events {
		}
	}()
	<-calls.polling
	cancel()
	close(calls.gate)

	require.Eventually(t, func() bool { return !svc.Status().IsCalling }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"+15550100"}, calls.dialed())
	results := svc.Results()
	require.Len(t, results, 1)
	assert.Equal(t, model.OutcomeNoReschedule, results[0].Outcome)
	assert.Equal(t, model.StatusReady, svc.Status().CurrentStatus)
}

func TestPanicReleasesSession(t *testing.T) {
	calls := newFakeCalls()
	calls.panicFor = "+15550100"

	svc := setup(t, calls,
		[]model.JSONMap{person("Ada", "+15550100", "")},
		[]model.JSONMap{slot("2025-03-01")})

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	got := collect(t, events)

	assert.Equal(t, model.EventError, got[len(got)-1].Type)
	st := svc.Status()
	assert.False(t, st.IsCalling)
	assert.Equal(t, model.StatusReady, st.CurrentStatus)

	// The session is usable again.
	calls.panicFor = ""
	calls.payloads["call-+15550100"] = declined()
	events, err = svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	collect(t, events)
	assert.Len(t, svc.Results(), 1)
}

func TestRecover(t *testing.T) {
	calls := newFakeCalls()
	calls.payloads["call-abc"] = rescheduled("2025-03-01")

	svc := setup(t, calls, nil, []model.JSONMap{slot("2025-03-01"), slot("2025-03-05")})

	out, err := svc.Recover(context.Background(), "call-abc")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownPatient, out.PatientName)
	assert.Equal(t, model.OutcomeRescheduled, out.Outcome)
	assert.True(t, out.SlotRemoved)
	assert.Equal(t, []string{"2025-03-05"}, slotDates(svc))
	assert.Len(t, svc.Results(), 1)

	_, err = svc.Recover(context.Background(), "call-missing")
	assert.Equal(t, http.StatusNotFound, apperrors.StatusOf(err))
	assert.EqualError(t, err, msgCallNotFound)
	assert.Len(t, svc.Results(), 1)
}

func TestRecoverPublishesOutcome(t *testing.T) {
	calls := newFakeCalls()
	calls.payloads["call-+15550100"] = declined()
	calls.payloads["call-abc"] = rescheduled("2025-03-01")
	pub := &recordingPublisher{}

	svc := NewService(NewSession(), calls, Config{}, nil, WithPublisher(pub))
	_, err := svc.UploadPeople(table(person("Ada", "+15550100", "2025-03-10")))
	require.NoError(t, err)
	_, err = svc.UploadAppointments(table(slot("2025-03-01")))
	require.NoError(t, err)
	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	runID := collect(t, events)[0].RunID

	out, err := svc.Recover(context.Background(), "call-abc")
	require.NoError(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, model.EventCallComplete, last.Type)
	assert.Equal(t, "call-abc", last.CallID)
	assert.Equal(t, runID, last.RunID)
	require.NotNil(t, last.Result)
	assert.Equal(t, out, *last.Result)
}

type failingPublisher struct{}

func (failingPublisher) Emit(context.Context, model.ProgressEvent) error {
	return errors.New("broker down")
}

func TestPublishFailureDoesNotInterruptCampaign(t *testing.T) {
	calls := newFakeCalls()
	calls.payloads["call-+15550100"] = declined()

	svc := NewService(NewSession(), calls, Config{}, nil, WithPublisher(failingPublisher{}))
	_, err := svc.UploadPeople(table(person("Ada", "+15550100", "2025-03-10")))
	require.NoError(t, err)
	_, err = svc.UploadAppointments(table(slot("2025-03-01")))
	require.NoError(t, err)

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	got := collect(t, events)
	assert.Equal(t, model.EventComplete, got[len(got)-1].Type)
	assert.Len(t, svc.Results(), 1)
}

func TestStartClearsPreviousResults(t *testing.T) {
	calls := newFakeCalls()
	for i := 0; i < 2; i++ {
		calls.payloads[fmt.Sprintf("call-+1555010%d", i)] = declined()
	}
	svc := setup(t, calls,
		[]model.JSONMap{person("Ada", "+15550100", ""), person("Bob", "+15550101", "")},
		[]model.JSONMap{slot("2025-03-01")})

	for run := 0; run < 2; run++ {
		events, err := svc.Start(context.Background(), "+15550199")
		require.NoError(t, err)
		collect(t, events)
		assert.Len(t, svc.Results(), 2)
	}
}

func TestUploadAppointmentsRequiresDate(t *testing.T) {
	svc := setup(t, newFakeCalls(), nil, nil)
	_, err := svc.UploadAppointments(table(model.JSONMap{"when": "2025-03-01"}))
	assert.EqualError(t, err, msgNoDateColumn)
	assert.Nil(t, svc.Status().AppointmentsSchema)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (p *recordingPublisher) Emit(_ context.Context, evt model.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type recordingNotifier struct {
	summaries chan model.CampaignSummary
}

func (n *recordingNotifier) CampaignFinished(_ context.Context, s model.CampaignSummary) error {
	n.summaries <- s
	return nil
}

func TestPublisherAndNotifier(t *testing.T) {
	calls := newFakeCalls()
	calls.payloads["call-+15550100"] = rescheduled("2025-03-01")
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{summaries: make(chan model.CampaignSummary, 1)}

	svc := NewService(NewSession(), calls, Config{}, nil, WithPublisher(pub), WithNotifier(notifier))
	_, err := svc.UploadPeople(table(person("Ada", "+15550100", "2025-03-10"), person("Bob", "+15550101", "2025-02-01")))
	require.NoError(t, err)
	_, err = svc.UploadAppointments(table(slot("2025-03-01"), slot("2025-03-05")))
	require.NoError(t, err)

	events, err := svc.Start(context.Background(), "+15550199")
	require.NoError(t, err)
	got := collect(t, events)

	summary := <-notifier.summaries
	assert.Equal(t, 2, summary.TotalCalls)
	assert.Equal(t, 1, summary.Outcomes[model.OutcomeRescheduled])
	assert.Equal(t, 1, summary.Outcomes[model.OutcomeSkippedNoEarly])
	assert.Equal(t, 1, summary.SlotsRemaining)
	assert.False(t, summary.Stopped)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, types(got), types(pub.events))
}
