package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

// scripted returns each configured outcome in turn.
type scripted struct {
	mu        sync.Mutex
	outcomes  []any // Each entry is either an output value or an error
	callCount int
}

func (s *scripted) call(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callCount >= len(s.outcomes) {
		return nil, fmt.Errorf("unexpected call %d (only %d outcomes configured)", s.callCount+1, len(s.outcomes))
	}
	out := s.outcomes[s.callCount]
	s.callCount++

	if err, ok := out.(error); ok {
		return nil, err
	}
	return out, nil
}

func (s *scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		Multiplier:      2,
	}
}

// TestRetryInvoke_TransientThenSuccess verifies transient failures are retried.
func TestRetryInvoke_TransientThenSuccess(t *testing.T) {
	s := &scripted{outcomes: []any{errors.New("transient 1"), errors.New("transient 2"), "done"}}

	var notified []int
	out, attempts, err := retryInvoke(context.Background(), s.call, 5, fastRetry(), func(n int, err error, wait time.Duration) {
		notified = append(notified, n)
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if out != "done" {
		t.Errorf("expected output 'done', got %v", out)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("expected notifications for attempts [1 2], got %v", notified)
	}
}

// TestRetryInvoke_NoRetries verifies a zero retry count makes exactly one attempt.
func TestRetryInvoke_NoRetries(t *testing.T) {
	s := &scripted{outcomes: []any{errors.New("first"), "unused"}}

	_, attempts, err := retryInvoke(context.Background(), s.call, 0, fastRetry(), nil)
	if err == nil || err.Error() != "first" {
		t.Fatalf("expected 'first' error, got %v", err)
	}
	if attempts != 1 || s.CallCount() != 1 {
		t.Errorf("expected exactly 1 attempt, got attempts=%d calls=%d", attempts, s.CallCount())
	}
}

// TestRetryInvoke_WaitBudget verifies MaxElapsedTime caps the waits between
// attempts rather than the attempts themselves.
func TestRetryInvoke_WaitBudget(t *testing.T) {
	s := &scripted{outcomes: []any{errors.New("first"), errors.New("second"), "unused"}}
	cfg := RetryConfig{
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  3 * time.Millisecond, // fits the 2ms wait, not the 4ms one after it
		Multiplier:      2,
	}

	_, attempts, err := retryInvoke(context.Background(), s.call, 5, cfg, nil)
	if err == nil || err.Error() != "second" {
		t.Fatalf("expected 'second' error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

// TestRetryInvoke_CircuitOpenIsPermanent verifies an open breaker stops retries.
func TestRetryInvoke_CircuitOpenIsPermanent(t *testing.T) {
	s := &scripted{outcomes: []any{errors.New("fail 1"), errors.New("fail 2"), "unreachable"}}

	reg := NewBreakerRegistry(BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, logging.Discard())
	guarded := withBreaker(s.call, reg.Get("svc.call"))

	_, attempts, err := retryInvoke(context.Background(), guarded, 10, fastRetry(), nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if s.CallCount() != 2 {
		t.Errorf("expected 2 calls before the breaker opened, got %d", s.CallCount())
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (2 failures + rejected), got %d", attempts)
	}
}

// TestRetryInvoke_ContextCancelledStopsRetry verifies cancellation ends the loop.
func TestRetryInvoke_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	call := func(ctx context.Context) (any, error) {
		calls++
		cancel()
		return nil, errors.New("fails while cancelling")
	}

	_, _, err := retryInvoke(ctx, call, 10, fastRetry(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// TestBreakerRegistry_PerAction verifies each action gets its own breaker.
func TestBreakerRegistry_PerAction(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{}, logging.Discard())

	a1 := reg.Get("agent.prompt")
	a2 := reg.Get("agent.prompt")
	b := reg.Get("core.set")

	if a1 != a2 {
		t.Error("expected the same breaker for the same action")
	}
	if a1 == b {
		t.Error("expected different breakers for different actions")
	}
	if reg.State("never.used") != gobreaker.StateClosed {
		t.Error("expected unknown actions to report closed")
	}
}

// TestBreaker_CancellationNotCounted verifies caller cancellation doesn't trip the breaker.
func TestBreaker_CancellationNotCounted(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{ConsecutiveFailures: 2}, logging.Discard())
	cb := reg.Get("agent.prompt")

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, context.Canceled })
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed breaker, got %s", cb.State())
	}
}

// TestWithTimeout verifies slow attempts are abandoned with ErrTimeout.
func TestWithTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	}

	_, err := withTimeout(slow, 10*time.Millisecond)(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	fast := func(ctx context.Context) (any, error) { return "quick", nil }
	out, err := withTimeout(fast, time.Second)(context.Background())
	if err != nil || out != "quick" {
		t.Errorf("expected quick result, got %v, %v", out, err)
	}
}

// TestSafeInvoke verifies panics are converted into errors.
func TestSafeInvoke(t *testing.T) {
	action := scheduler.ActionFunc(func(context.Context, map[string]any) (any, error) {
		panic("bad state")
	})

	out, err := safeInvoke(context.Background(), action, nil)
	if out != nil {
		t.Errorf("expected nil output, got %v", out)
	}
	if !errors.Is(err, scheduler.ErrActionPanic) {
		t.Errorf("expected ErrActionPanic, got %v", err)
	}
}
