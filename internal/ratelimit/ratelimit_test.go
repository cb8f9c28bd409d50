package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterFirstCallDoesNotWait(t *testing.T) {
	r := NewFixedRateLimiter(time.Hour)

	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSimpleRateLimiterSpacesCalls(t *testing.T) {
	r := NewFixedRateLimiter(50 * time.Millisecond)

	require.NoError(t, r.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}

func TestSimpleRateLimiterHonorsContext(t *testing.T) {
	r := NewFixedRateLimiter(time.Hour)
	require.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateDelayWithinBounds(t *testing.T) {
	r := NewSimpleRateLimiter(10*time.Millisecond, 20*time.Millisecond)
	for i := 0; i < 100; i++ {
		d := r.calculateDelay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}

	inverted := NewSimpleRateLimiter(30*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, inverted.calculateDelay())
}

func TestAdaptiveRateLimiterBacksOff(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

	a.RecordError()
	a.RecordError()
	min, max := a.Delays()
	assert.Equal(t, 2*time.Second, min, "no backoff before the error threshold")
	assert.Equal(t, 4*time.Second, max)

	a.RecordError()
	min, max = a.Delays()
	assert.Equal(t, 3*time.Second, min)
	assert.Equal(t, 6*time.Second, max)
}

func TestAdaptiveRateLimiterCapsBackoff(t *testing.T) {
	a := NewAdaptiveRateLimiter(50*time.Second, 100*time.Second)
	for i := 0; i < 9; i++ {
		a.RecordError()
	}

	min, max := a.Delays()
	assert.Equal(t, 60*time.Second, min)
	assert.Equal(t, 120*time.Second, max)
}

func TestAdaptiveRateLimiterRecoversToBase(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)
	for i := 0; i < 3; i++ {
		a.RecordError()
	}

	for i := 0; i < 60; i++ {
		a.RecordSuccess()
	}

	min, _ := a.Delays()
	assert.Equal(t, 2*time.Second, min)
}
