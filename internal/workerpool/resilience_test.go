package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/taskhive/taskhive/internal/config"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.1,
	}
}

func testBreaker(consecutiveFailures uint32) *gobreaker.CircuitBreaker {
	reg := NewBreakerRegistry(config.BreakerConfig{
		ConsecutiveFailures: consecutiveFailures,
		TimeoutMS:           60_000,
		MaxRequests:         1,
	}, nil)
	return reg.Get("test-worker")
}

// TestRetryPolicyFromConfig verifies conversion and fallback behavior.
func TestRetryPolicyFromConfig(t *testing.T) {
	// Zero config falls back to defaults entirely.
	got := retryPolicyFromConfig(config.RetryConfig{})
	want := DefaultRetryPolicy()
	if got != want {
		t.Errorf("zero config policy = %+v, want defaults %+v", got, want)
	}

	// Populated fields override, unset fields keep defaults.
	got = retryPolicyFromConfig(config.RetryConfig{
		InitialIntervalMS: 250,
		Multiplier:        3.0,
	})
	if got.InitialInterval != 250*time.Millisecond {
		t.Errorf("InitialInterval = %v, want 250ms", got.InitialInterval)
	}
	if got.Multiplier != 3.0 {
		t.Errorf("Multiplier = %v, want 3.0", got.Multiplier)
	}
	if got.MaxInterval != want.MaxInterval || got.MaxElapsedTime != want.MaxElapsedTime {
		t.Errorf("unset fields changed: %+v", got)
	}
}

// TestRunWithResilience_FirstTrySuccess verifies no retries happen on success.
func TestRunWithResilience_FirstTrySuccess(t *testing.T) {
	calls := 0
	err := runWithResilience(context.Background(), testBreaker(5), testPolicy(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

// TestRunWithResilience_RetriesUntilSuccess verifies transient failures are
// absorbed by backoff.
func TestRunWithResilience_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := runWithResilience(context.Background(), testBreaker(100), testPolicy(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

// TestRunWithResilience_OpenBreakerAborts verifies an open breaker fails
// fast instead of retrying against a known-bad worker.
func TestRunWithResilience_OpenBreakerAborts(t *testing.T) {
	calls := 0
	err := runWithResilience(context.Background(), testBreaker(2), testPolicy(), func() error {
		calls++
		return errors.New("persistent")
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got: %v", err)
	}
	// Two failures trip the breaker; the third attempt is rejected before
	// reaching the op.
	if calls != 2 {
		t.Errorf("op called %d times, want 2", calls)
	}
}

// TestRunWithResilience_CancelledContext verifies a dead context stops the
// attempt before the op runs.
func TestRunWithResilience_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := runWithResilience(ctx, testBreaker(5), testPolicy(), func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if calls != 0 {
		t.Errorf("op called %d times after cancellation, want 0", calls)
	}
}

// TestBreakerRegistry_PerWorkerInstances verifies breaker identity and
// naming.
func TestBreakerRegistry_PerWorkerInstances(t *testing.T) {
	reg := NewBreakerRegistry(config.BreakerConfig{}, nil)

	a := reg.Get("worker-a")
	b := reg.Get("worker-b")
	if a == b {
		t.Error("different workers share a breaker")
	}
	if again := reg.Get("worker-a"); again != a {
		t.Error("repeated Get returned a different breaker for the same worker")
	}
	if a.Name() != "worker-worker-a" {
		t.Errorf("breaker name = %q, want worker-worker-a", a.Name())
	}
}

// TestBreakerRegistry_CancellationNotAFault verifies context errors do not
// count toward tripping.
func TestBreakerRegistry_CancellationNotAFault(t *testing.T) {
	cb := testBreaker(1)

	// Repeated cancellations leave the breaker closed.
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, context.Canceled
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got: %v", err)
		}
	}
	if got := cb.State(); got != gobreaker.StateClosed {
		t.Fatalf("breaker state = %v, want closed after cancellations", got)
	}

	// One real fault trips the threshold-1 breaker immediately.
	_, _ = cb.Execute(func() (interface{}, error) {
		return nil, errors.New("real fault")
	})
	if got := cb.State(); got != gobreaker.StateOpen {
		t.Errorf("breaker state = %v, want open after a real fault", got)
	}
}
