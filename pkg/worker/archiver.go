package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
	"github.com/jwalitptl/reschedule-agent/pkg/messaging"
	"github.com/jwalitptl/reschedule-agent/pkg/metrics"
	"github.com/jwalitptl/reschedule-agent/pkg/repository"
	"github.com/jwalitptl/reschedule-agent/pkg/security"
)

type ArchiverConfig struct {
	Topic         string
	RetryAttempts int
	RetryDelay    time.Duration
}

// Archiver stores the outcome of every finished call seen on the progress
// topic. Other event types are ignored.
type Archiver struct {
	repo      repository.ArchiveWriter
	broker    messaging.MessageBroker
	encryptor security.Encryptor
	config    ArchiverConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewArchiver builds an archiver. encryptor may be nil, in which case
// payloads are stored as plain JSON.
func NewArchiver(
	repo repository.ArchiveWriter,
	broker messaging.MessageBroker,
	encryptor security.Encryptor,
	config ArchiverConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) (*Archiver, error) {
	if config.Topic == "" {
		return nil, errors.New("archiver topic is required")
	}
	if config.RetryAttempts <= 0 {
		return nil, errors.New("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		return nil, errors.New("RetryDelay must be greater than 0")
	}

	return &Archiver{
		repo:      repo,
		broker:    broker,
		encryptor: encryptor,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Start subscribes to the topic and blocks until ctx is done.
func (a *Archiver) Start(ctx context.Context) error {
	if err := a.broker.Subscribe(ctx, a.config.Topic, func(msg []byte) error {
		return a.Handle(ctx, msg)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", a.config.Topic, err)
	}

	a.logger.Info("Starting outcome archiver", "topic", a.config.Topic)
	<-ctx.Done()
	a.logger.Info("Shutting down outcome archiver")
	return nil
}

// Handle archives one message from the progress topic.
func (a *Archiver) Handle(ctx context.Context, msg []byte) error {
	var evt model.ProgressEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		a.metrics.ArchiveFailed.Inc()
		return fmt.Errorf("failed to decode progress event: %w", err)
	}
	if evt.Type != model.EventCallComplete || evt.Result == nil {
		return nil
	}

	timer := prometheus.NewTimer(a.metrics.ArchiveLatency)
	defer timer.ObserveDuration()

	record, err := a.record(evt)
	if err != nil {
		a.metrics.ArchiveFailed.Inc()
		return err
	}

	err = retry(ctx, a.config.RetryAttempts, a.config.RetryDelay, func(attempt int) error {
		if attempt > 0 {
			a.metrics.ArchiveRetries.Inc()
			record.RetryCount = attempt
		}
		return a.repo.Save(ctx, record)
	})
	if err != nil {
		a.metrics.ArchiveFailed.Inc()
		a.logger.Error(err, "Failed to archive outcome", "run_id", evt.RunID, "call_id", evt.CallID)
		return err
	}

	a.metrics.ArchiveProcessed.Inc()
	return nil
}

func (a *Archiver) record(evt model.ProgressEvent) (*model.ArchivedOutcome, error) {
	payload, err := json.Marshal(evt.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome: %w", err)
	}

	encrypted := false
	if a.encryptor != nil {
		if payload, err = a.encryptor.Encrypt(payload); err != nil {
			return nil, fmt.Errorf("failed to encrypt outcome: %w", err)
		}
		encrypted = true
	}

	var callID *string
	if evt.CallID != "" {
		id := evt.CallID
		callID = &id
	}

	return &model.ArchivedOutcome{
		RunID:     evt.RunID,
		CallID:    callID,
		Outcome:   string(evt.Result.Outcome),
		Payload:   payload,
		Encrypted: encrypted,
		CreatedAt: time.Now(),
	}, nil
}

// retry runs fn up to attempts times with a linear backoff. It gives up early
// when ctx is done.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-time.After(delay * time.Duration(i+1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
