package circuitbreaker

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int
	Interval    time.Duration
	Timeout     time.Duration
	// IsSuccessful reports errors that must not count as failures. Nil means only a nil error succeeds.
	IsSuccessful func(err error) bool
}

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	maxFailures := settings.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:         settings.Name,
			MaxRequests:  1,
			Interval:     settings.Interval,
			Timeout:      settings.Timeout,
			IsSuccessful: settings.IsSuccessful,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(maxFailures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

// Execute runs fn unless the breaker is open. Errors from fn count as failures
// unless Settings.IsSuccessful accepts them; either way they are returned.
func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}
