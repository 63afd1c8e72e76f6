package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return apperr.New(apperr.Unavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return apperr.New(apperr.LLMAuthFailed, "bad key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), func() error {
		calls++
		return apperr.New(apperr.LLMRateLimited, "slow down")
	})
	assert.True(t, apperr.IsCode(err, apperr.LLMRateLimited))
	assert.Equal(t, 3, calls)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetry(3), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelayIsCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 4 * time.Second, JitterFactor: 0.2}.withDefaults()
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(4*time.Second)*1.1))
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := NewBreaker(Config{Threshold: 2, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 1})
	b.Failure()
	assert.Equal(t, Closed, b.State())
	b.Failure()
	assert.Equal(t, Open, b.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
	b.Success()
	assert.Equal(t, Closed, b.State())
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Hour})
	b.Failure()
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestExecuteWithResultIgnoresNonCountingFailures(t *testing.T) {
	b := NewBreaker(Config{Threshold: 1, ResetTimeout: time.Hour})
	notConfigured := apperr.New(apperr.LLMNotConfigured, "no key")
	_, err := ExecuteWithResult(b, apperr.IsRetryable, func() (string, error) { return "", notConfigured })
	require.ErrorIs(t, err, notConfigured)
	assert.Equal(t, Closed, b.State())

	_, err = ExecuteWithResult(b, apperr.IsRetryable, func() (string, error) {
		return "", apperr.New(apperr.Unavailable, "503")
	})
	require.Error(t, err)
	assert.Equal(t, Open, b.State())

	_, err = ExecuteWithResult(b, nil, func() (string, error) { return "ok", nil })
	assert.True(t, errors.Is(err, ErrOpen))
}
