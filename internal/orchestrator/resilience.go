package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskflow/internal/scheduler"
)

// ErrTimeout is returned when one attempt exceeds the task's Timeout.
var ErrTimeout = errors.New("task attempt timed out")

// RetryConfig configures exponential backoff between attempts of a task.
// The number of attempts comes from TaskDefinition.RetryCount. Time spent
// inside attempts never counts against MaxElapsedTime, so a slow attempt does
// not use up the retries of its task.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Budget for the waits between attempts, 0 means no limit (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

func (c RetryConfig) policy(ctx context.Context, retries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	// ExponentialBackOff measures elapsed time from Reset, attempts included.
	b.MaxElapsedTime = 0
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.RandomizationFactor
	b.Reset()

	budget := &waitBudget{BackOff: b, max: c.MaxElapsedTime}
	return backoff.WithContext(backoff.WithMaxRetries(budget, uint64(retries)), ctx)
}

// waitBudget stops the retries once the summed waits would exceed max.
type waitBudget struct {
	backoff.BackOff
	max   time.Duration
	spent time.Duration
}

func (w *waitBudget) NextBackOff() time.Duration {
	next := w.BackOff.NextBackOff()
	if next == backoff.Stop || w.max <= 0 {
		return next
	}
	if w.spent+next > w.max {
		return backoff.Stop
	}
	w.spent += next
	return next
}

func (w *waitBudget) Reset() {
	w.spent = 0
	w.BackOff.Reset()
}

// BreakerConfig tunes the per-action circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Failures that trip the breaker (default 5)
	OpenTimeout         time.Duration // Time spent open before probing (default 30s)
	HalfOpenRequests    uint32        // Probe requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// BreakerRegistry manages one circuit breaker per named action. Breakers
// outlive a single run, so repeated failures of an action across runs trip it.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg BreakerConfig, logger *slog.Logger) *BreakerRegistry {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = DefaultBreakerConfig().HalfOpenRequests
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for action, creating it on first use.
func (r *BreakerRegistry) Get(action string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[action]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        action,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed", "action", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not the action's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	r.breakers[action] = cb
	return cb
}

// State reports the state of the breaker for action, closed if none exists.
func (r *BreakerRegistry) State(action string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[action]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// invokeFunc performs one attempt.
type invokeFunc func(ctx context.Context) (any, error)

// safeInvoke calls action, turning a panic into an ErrActionPanic error.
func safeInvoke(ctx context.Context, action scheduler.Action, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", scheduler.ErrActionPanic, r)
		}
	}()
	return action.Invoke(ctx, args)
}

// withTimeout bounds fn by timeout. The attempt is abandoned, not killed: an
// action that ignores its context keeps running in the background.
func withTimeout(fn invokeFunc, timeout time.Duration) invokeFunc {
	if timeout <= 0 {
		return fn
	}
	return func(ctx context.Context) (any, error) {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type outcome struct {
			out any
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			out, err := fn(tctx)
			done <- outcome{out, err}
		}()

		select {
		case o := <-done:
			return o.out, o.err
		case <-tctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
	}
}

// withBreaker routes fn through cb.
func withBreaker(fn invokeFunc, cb *gobreaker.CircuitBreaker) invokeFunc {
	if cb == nil {
		return fn
	}
	return func(ctx context.Context) (any, error) {
		return cb.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
	}
}

// retryInvoke runs fn up to retries+1 times with exponential backoff.
// It returns the output of the successful attempt and the number of attempts made.
func retryInvoke(ctx context.Context, fn invokeFunc, retries int, cfg RetryConfig, notify func(attempt int, err error, wait time.Duration)) (any, int, error) {
	var (
		output   any
		attempts int
	)

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		attempts++
		out, err := fn(ctx)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		output = out
		return nil
	}

	if retries <= 0 {
		err := operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return output, attempts, err
	}

	err := backoff.RetryNotify(operation, cfg.policy(ctx, retries), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempts, err, wait)
		}
	})
	return output, attempts, err
}
