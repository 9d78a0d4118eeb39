package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, BackoffStep: time.Millisecond})

	var seen []int
	err := r.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	var retries []int
	r := NewRetry(RetryConfig{
		MaxAttempts: 3,
		BackoffStep: time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			retries = append(retries, attempt)
		},
	})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errFlaky
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetry_NonRetryableStops(t *testing.T) {
	permanent := errors.New("permanent")
	r := NewRetry(RetryConfig{
		MaxAttempts:      5,
		RetryableChecker: func(err error) bool { return !errors.Is(err, permanent) },
	})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, ErrMaxAttemptsExceeded)
}

func TestRetry_CancelDuringBackoff(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, BackoffStep: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	err := r.Execute(ctx, func(ctx context.Context, attempt int) error {
		cancel()
		return errFlaky
	})

	// il fallimento coincide con la cancellazione: nessuna attesa
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, errFlaky)
}

func TestRetry_CanceledBeforeStart(t *testing.T) {
	r := NewRetry(DefaultRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := r.Execute(ctx, func(ctx context.Context, attempt int) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_Backoff(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		attempt int
		want    time.Duration
	}{
		{"first", RetryConfig{BackoffStep: 2 * time.Second}, 1, 2 * time.Second},
		{"linear", RetryConfig{BackoffStep: 2 * time.Second}, 3, 6 * time.Second},
		{"capped", RetryConfig{BackoffStep: 2 * time.Second, MaxBackoff: 3 * time.Second}, 2, 3 * time.Second},
		{"zero step", RetryConfig{}, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewRetry(tt.config).Backoff(tt.attempt))
		})
	}
}

func TestNewRetry_Normalizes(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 0, BackoffStep: -time.Second})
	assert.Equal(t, 1, r.MaxAttempts())
	assert.Equal(t, time.Duration(0), r.Backoff(1))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
