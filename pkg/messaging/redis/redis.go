package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/reschedule-agent/pkg/circuitbreaker"
	"github.com/jwalitptl/reschedule-agent/pkg/messaging"
	"github.com/jwalitptl/reschedule-agent/pkg/metrics"
)

var _ messaging.Broker = (*RedisBroker)(nil)

type RedisBroker struct {
	client  *redis.Client
	cb      *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *zerolog.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
}

// NewRedisBroker connects to Redis and verifies the connection. m may be nil.
func NewRedisBroker(ctx context.Context, config Config, m *metrics.Metrics, logger *zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	opts.PoolSize = config.PoolSize
	opts.MinIdleConns = config.MinIdleConns

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "redis-broker",
		MaxFailures: 10,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
	})

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroker{
		client:  client,
		cb:      cb,
		metrics: m,
		logger:  logger,
	}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	start := time.Now()
	err = b.cb.Execute(func() error {
		return b.client.Publish(ctx, channel, payload).Err()
	})
	b.observe("publish", start, err)
	return err
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	msgChan := make(chan []byte, 100)

	go func() {
		defer func() {
			pubsub.Close()
			close(msgChan)
		}()

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				b.logger.Warn().Err(err).Str("channel", channel).Msg("redis receive failed")
				b.observe("receive", time.Now(), err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case msgChan <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgChan, nil
}

// Ping reports whether Redis is reachable.
func (b *RedisBroker) Ping(ctx context.Context) error {
	start := time.Now()
	err := b.client.Ping(ctx).Err()
	b.observe("ping", start, err)
	return err
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func (b *RedisBroker) observe(op string, start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.RedisOperations.WithLabelValues(op, status).Inc()
	b.metrics.RedisLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
