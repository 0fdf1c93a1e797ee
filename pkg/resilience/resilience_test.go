package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

type waitErr struct{ d time.Duration }

func (w waitErr) Error() string             { return "slow down" }
func (w waitErr) RetryAfter() time.Duration { return w.d }

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(2), func() error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := fastRetry(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, errFlaky) }
	calls := 0
	err := Retry(context.Background(), "op", cfg, func() error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, ErrNotRetryable)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	cfg := fastRetry(2)
	cfg.MaxDelay = time.Second
	var slept time.Duration
	cfg.OnRetry = func(_ int, _ error, d time.Duration) { slept = d }
	calls := 0
	_ = Retry(context.Background(), "op", cfg, func() error {
		calls++
		if calls == 1 {
			return waitErr{d: 20 * time.Millisecond}
		}
		return nil
	})
	assert.Equal(t, 20*time.Millisecond, slept)
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(10)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }
	err := Retry(ctx, "op", cfg, func() error { return errFlaky })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeDelayBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, JitterFraction: 0.2}
	for attempt := 1; attempt <= 6; attempt++ {
		d := computeDelay(attempt, cfg)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var transitions []State
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	cb.now = func() time.Time { return now }
	fail := func(context.Context) error { return errFlaky }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, now, cb.Snapshot().OpenedAt)

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Snapshot().Failures)
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errFlaky })
	now = now.Add(time.Second)
	_ = cb.Execute(ctx, func(context.Context) error { return errFlaky })
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, now, cb.Snapshot().OpenedAt)
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1})
	for range 3 {
		err := cb.Execute(context.Background(), func(context.Context) error {
			return fmt.Errorf("get: %w", context.Canceled)
		})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestWithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), 5*time.Millisecond, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 1, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err = WithTimeout(context.Background(), 0, "unbounded", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = WithTimeout(context.Background(), time.Second, "fast", func(context.Context) (int, error) { return 3, errFlaky })
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, v)
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, "run", func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
