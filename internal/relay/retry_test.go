package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"solana-action-relay/internal/solana"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}.withDefaults()

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	transport := errors.New("connection reset")

	assert.True(t, p.ShouldRetry(1, transport))
	assert.True(t, p.ShouldRetry(2, transport))
	assert.False(t, p.ShouldRetry(3, transport))
	assert.False(t, p.ShouldRetry(1, nil))
	assert.False(t, p.ShouldRetry(1, &solana.RPCError{Code: -32002}))
	assert.False(t, p.ShouldRetry(1, context.Canceled))
}

func TestRetryPolicy_CustomClassifier(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Retryable: func(error) bool { return false }}.withDefaults()
	assert.False(t, p.ShouldRetry(1, errors.New("x")))
	assert.Equal(t, 5, p.MaxAttempts)
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultMaxDelay, p.MaxDelay)
	assert.Equal(t, DefaultMultiplier, p.Multiplier)
	assert.NotNil(t, p.Retryable)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
