package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jwalitptl/reschedule-agent/internal/email"
	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
)

const (
	maxRetries = 3
	retryDelay = 5 * time.Second
)

// Service tells operators that a campaign has finished.
type Service interface {
	CampaignFinished(ctx context.Context, summary model.CampaignSummary) error
}

type service struct {
	emailSvc   email.Service
	recipients []string
	retryDelay time.Duration
	logger     *logger.Logger
}

func NewService(emailSvc email.Service, recipients []string, log *logger.Logger) Service {
	if log == nil {
		log = logger.Nop()
	}
	return &service{
		emailSvc:   emailSvc,
		recipients: recipients,
		retryDelay: retryDelay,
		logger:     log,
	}
}

func (s *service) CampaignFinished(ctx context.Context, summary model.CampaignSummary) error {
	if len(s.recipients) == 0 {
		return nil
	}
	subject := fmt.Sprintf("Reschedule campaign %s finished: %d calls", summary.RunID, summary.TotalCalls)
	body := Render(summary)

	var failed []string
	for _, to := range s.recipients {
		if err := s.send(ctx, to, subject, body); err != nil {
			s.logger.Error(err, "notification.campaign_summary.failed", "run_id", summary.RunID)
			failed = append(failed, to)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("campaign summary not delivered to %d recipient(s)", len(failed))
	}
	s.logger.Info("notification.campaign_summary.sent", "run_id", summary.RunID, "recipients", len(s.recipients))
	return nil
}

func (s *service) send(ctx context.Context, to, subject, body string) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = s.emailSvc.SendCustom(ctx, to, subject, body); err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}
	return err
}

// Render formats the summary as a plain text message.
func Render(summary model.CampaignSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", summary.RunID)
	fmt.Fprintf(&b, "Started: %s\n", summary.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s\n", summary.FinishedAt.Format(time.RFC3339))
	if summary.Stopped {
		b.WriteString("Stopped before all people were called.\n")
	}
	fmt.Fprintf(&b, "Total calls: %d\n", summary.TotalCalls)
	fmt.Fprintf(&b, "Appointments rescheduled: %d\n", summary.Rescheduled)
	fmt.Fprintf(&b, "Open slots remaining: %d\n", summary.SlotsRemaining)

	tags := make([]string, 0, len(summary.Outcomes))
	for tag := range summary.Outcomes {
		tags = append(tags, string(tag))
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(&b, "  %s: %d\n", tag, summary.Outcomes[model.OutcomeTag(tag)])
	}
	return b.String()
}
