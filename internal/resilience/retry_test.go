package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(sleeps *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
}

func TestDoVal_SucceedsFirstTry(t *testing.T) {
	var sleeps []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, BackoffUnit: 35 * time.Second, Sleep: noSleep(&sleeps)}

	calls := 0
	val, err := DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps)
}

func TestDoVal_LinearBackoffSchedule(t *testing.T) {
	var sleeps []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, BackoffUnit: 35 * time.Second, Sleep: noSleep(&sleeps)}

	rateLimited := NewTransientError(errors.New("too many requests"), 429)

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		return "", rateLimited
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{35 * time.Second, 70 * time.Second}, sleeps)
	// The final error comes back unmodified.
	assert.Same(t, error(rateLimited), err)
}

func TestDoVal_RecoversAfterRateLimit(t *testing.T) {
	var sleeps []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, BackoffUnit: time.Second, Sleep: noSleep(&sleeps)}

	calls := 0
	val, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, NewTransientError(errors.New("slow down"), 429)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeps)
}

func TestDoVal_NonRetryableFailsImmediately(t *testing.T) {
	var sleeps []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, Sleep: noSleep(&sleeps)}

	boom := errors.New("invalid api key")
	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (string, error) {
		calls++
		return "", boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps)
}

func TestDoVal_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, BackoffUnit: time.Millisecond}

	calls := 0
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", NewTransientError(errors.New("throttled"), 429)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		OnRetry:     func(attempt int, err error) { attempts = append(attempts, attempt) },
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError(errors.New("busy"), 429)
	})

	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestSleepContext_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
