package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.ErrStoreUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(3), func(ctx context.Context) error {
		calls++
		return apperrors.ErrStoreUnavailable
	})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	cfg := fastRetry(5)
	cfg.Retryable = apperrors.IsStoreFailure
	calls := 0
	err := Retry(context.Background(), "op", cfg, func(ctx context.Context) error {
		calls++
		return apperrors.ErrInvalidInput
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 1, calls)
}

func TestRetryAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, "op", cfg, func(ctx context.Context) error {
		calls++
		return apperrors.ErrTimeout
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Equal(t, 1, calls)
}

func TestComputeDelayCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2, JitterFraction: 0.1}
	assert.Equal(t, 3*time.Second, computeDelay(10, cfg))
	d := computeDelay(1, cfg)
	assert.InDelta(t, float64(time.Second), float64(d), float64(100*time.Millisecond))
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, to)
		},
	})
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        apperrors.IsStoreFailure,
	})
	_ = cb.Execute(func() error { return apperrors.ErrInvalidInput })
	assert.Equal(t, StateClosed, cb.GetState())
	_ = cb.Execute(func() error { return apperrors.ErrStoreUnavailable })
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "ping", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	err = WithTimeout(context.Background(), time.Second, "ping", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}
