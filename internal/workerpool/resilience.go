package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/config"
)

// RetryPolicy holds the backoff parameters applied to a single task
// execution. Transient executor errors are retried with exponential
// backoff until MaxElapsedTime runs out; only then does the task fail.
type RetryPolicy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy returns conservative defaults suitable for local
// executors: start at 100ms, cap at 10s, give up after 2 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// retryPolicyFromConfig converts the wire-format config (milliseconds)
// into a RetryPolicy, falling back to defaults for unset fields.
func retryPolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if rc.InitialIntervalMS > 0 {
		p.InitialInterval = rc.InitialInterval()
	}
	if rc.MaxIntervalMS > 0 {
		p.MaxInterval = rc.MaxInterval()
	}
	if rc.MaxElapsedTimeMS > 0 {
		p.MaxElapsedTime = rc.MaxElapsedTime()
	}
	if rc.Multiplier > 0 {
		p.Multiplier = rc.Multiplier
	}
	if rc.RandomizationFactor > 0 {
		p.RandomizationFactor = rc.RandomizationFactor
	}
	return p
}

// BreakerRegistry manages one circuit breaker per worker. A worker that
// keeps failing tasks trips its breaker and is taken out of rotation
// until the cool-down expires, instead of burning retries on every
// subsequent assignment.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      config.BreakerConfig
	log      *zap.Logger
}

// NewBreakerRegistry creates a registry whose breakers use the given
// configuration. Zero-valued config fields fall back to defaults.
func NewBreakerRegistry(cfg config.BreakerConfig, log *zap.Logger) *BreakerRegistry {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 30_000
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		log:      log,
	}
}

// Get returns the circuit breaker for the given worker, creating it on
// first use.
func (r *BreakerRegistry) Get(workerID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[workerID]; ok {
		return cb
	}

	log := r.log
	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker-" + workerID,
		MaxRequests: r.cfg.MaxRequests,
		Interval:    0, // Never reset counts while closed
		Timeout:     r.cfg.Timeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Context cancellation is shutdown, not worker failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	r.breakers[workerID] = cb
	return cb
}

// runWithResilience executes op through the worker's circuit breaker with
// exponential backoff. An open breaker aborts immediately rather than
// queueing retries behind a worker that is already known to be failing.
func runWithResilience(ctx context.Context, cb *gobreaker.CircuitBreaker, policy RetryPolicy, op func() error) error {
	operation := func() error {
		// Stop retrying once the pool is shutting down.
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := cb.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// Breaker is open. Retrying within this execution
				// cannot help; fail fast and let the scheduler decide.
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = policy.InitialInterval
	expBackoff.MaxInterval = policy.MaxInterval
	expBackoff.MaxElapsedTime = policy.MaxElapsedTime
	expBackoff.Multiplier = policy.Multiplier
	expBackoff.RandomizationFactor = policy.RandomizationFactor

	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}
