package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskregistry/internal/statemachine"
	"github.com/aristath/taskregistry/internal/task"
)

// RetryConfig configures exponential backoff for transient store errors.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 5s)
	MaxRetries          uint64        // Attempts after the first one; 0 disables retry (default 5)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxRetries:          5,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

func (c RetryConfig) policy(ctx context.Context) backoff.BackOffContext {
	if c.MaxRetries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = 0 // bounded by MaxRetries instead
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.RandomizationFactor
	return backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)
}

// permanent reports whether err must not be retried: typed domain errors
// describe the registry's state, not a hiccup in reaching it.
func permanent(err error) bool {
	return errors.Is(err, task.ErrValidation) ||
		errors.Is(err, task.ErrNotFound) ||
		errors.Is(err, task.ErrStateTransition) ||
		errors.Is(err, task.ErrDuplicateTask) ||
		errors.Is(err, statemachine.ErrTimelineCommit) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs op until it succeeds, fails permanently, or the retry budget
// is spent. The last error is returned unwrapped.
func withRetry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	var result T
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		v, err := op()
		result = v
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	err := backoff.Retry(operation, cfg.policy(ctx))
	return result, err
}

// BreakerConfig configures the per-objective circuit breakers.
type BreakerConfig struct {
	Threshold uint32        // Consecutive worker failures that open the breaker (default 3)
	Timeout   time.Duration // Time spent open before probing again (default 30s)
}

// BreakerRegistry manages one circuit breaker per objective. An open breaker
// stops the runner from claiming more work of that objective.
type BreakerRegistry struct {
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a new breaker registry.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	if cfg.Threshold == 0 {
		cfg.Threshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for objective, creating it on first use.
func (r *BreakerRegistry) Get(objective string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[objective]; ok {
		return cb
	}

	name := objective
	if name == "" {
		name = "(none)"
	}
	threshold := r.cfg.Threshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // One probe task in half-open state
		Interval:    0,
		Timeout:     r.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not a worker failure
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[objective] = cb
	return cb
}

// Open reports whether objective's breaker currently rejects work.
// Objectives never seen are closed.
func (r *BreakerRegistry) Open(objective string) bool {
	r.mu.Lock()
	cb, ok := r.breakers[objective]
	r.mu.Unlock()
	return ok && cb.State() == gobreaker.StateOpen
}
