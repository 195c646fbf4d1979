// Package resilience provides fault tolerance primitives for outbound
// calls the pipeline makes on a request's behalf (proxy fall-through,
// chain link execution): retry with backoff and circuit breaking.
//
// It is a thin adapter over github.com/cenkalti/backoff/v4 and
// github.com/sony/gobreaker/v2, matching the adapter shape already
// sketched (but not yet wired to those libraries) in the automation
// platform's infrastructure/resilience/resilience.go.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker's circuit states under pipeline-local names.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// ErrCircuitOpen is returned by Breaker.Execute when the breaker is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name          string
	MaxFailures   uint32
	OpenTimeout   time.Duration
	HalfOpenMax   uint32
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns sensible defaults matching the automation
// platform's DefaultConfig (5 consecutive failures, 30s open timeout, 3 half-open
// probes).
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{Name: name, MaxFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenMax: 3}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker[any] behind the pipeline's
// own State vocabulary.
type CircuitBreaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker builds a CircuitBreaker from cfg.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = 3
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMax,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, fromGobreakerState(from), fromGobreakerState(to))
		}
	}
	return &CircuitBreaker{gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() State { return fromGobreakerState(b.gb.State()) }

// Execute runs fn through the breaker, short-circuiting with
// ErrCircuitOpen while open.
func (b *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return b.gb.Execute(fn)
}

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig mirrors the automation platform's DefaultRetryConfig.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2.0}
}

// Retry executes fn with exponential backoff, honoring ctx cancellation,
// via cenkalti/backoff/v4's context-aware ticker.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	eb := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		eb.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		eb.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		eb.Multiplier = cfg.Multiplier
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1)), ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = fn()
		return lastErr
	}, bo)
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// IsCircuitOpen reports whether err represents an open-circuit rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState)
}
