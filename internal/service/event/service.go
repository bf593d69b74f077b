package event

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
	"github.com/jwalitptl/reschedule-agent/pkg/messaging"
)

const (
	maxRetries = 3
	retryDelay = 100 * time.Millisecond
)

// EventService fans campaign progress out to a broker channel so other
// processes can follow a run.
type EventService struct {
	broker  messaging.Broker
	channel string
	logger  *logger.Logger
}

func NewEventService(broker messaging.Broker, channel string, log *logger.Logger) *EventService {
	if log == nil {
		log = logger.Nop()
	}
	return &EventService{
		broker:  broker,
		channel: channel,
		logger:  log,
	}
}

// Emit publishes evt, retrying briefly. A failure is returned but never
// affects the campaign that produced the event.
func (s *EventService) Emit(ctx context.Context, evt model.ProgressEvent) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = s.broker.Publish(ctx, s.channel, evt); err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay * time.Duration(attempt)):
		}
	}

	s.logger.Warn("event.publish.failed",
		"type", string(evt.Type),
		"run_id", evt.RunID,
		"error", err.Error(),
	)
	return fmt.Errorf("failed to publish %s event: %w", evt.Type, err)
}
