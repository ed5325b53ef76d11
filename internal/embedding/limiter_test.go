package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_RequestCeiling(t *testing.T) {
	clock := newFakeClock()
	l := newRateLimiter(clock, 2, 0)
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, l.Wait(ctx, 1))
	require.NoError(t, l.Wait(ctx, 1))
	assert.Empty(t, clock.sleeps)

	require.NoError(t, l.Wait(ctx, 1))
	assert.Equal(t, start.Add(time.Minute), clock.Now())

	requests, _ := l.usage()
	assert.Equal(t, 1, requests)
}

func TestRateLimiter_TokenCeiling(t *testing.T) {
	clock := newFakeClock()
	l := newRateLimiter(clock, 100, 1000)
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, l.Wait(ctx, 600))
	clock.now = clock.now.Add(10 * time.Second)
	require.NoError(t, l.Wait(ctx, 300))

	// 600 + 300 + 200 > 1000: wait for the first entry to expire.
	require.NoError(t, l.Wait(ctx, 200))
	assert.Equal(t, start.Add(time.Minute), clock.Now())

	_, tokens := l.usage()
	assert.Equal(t, 500, tokens)
}

func TestRateLimiter_OversizedRequestWaitsForEmptyWindow(t *testing.T) {
	clock := newFakeClock()
	l := newRateLimiter(clock, 100, 100)
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, l.Wait(ctx, 50))
	require.NoError(t, l.Wait(ctx, 500))
	assert.Equal(t, start.Add(time.Minute), clock.Now())
}

func TestRateLimiter_Cancelled(t *testing.T) {
	clock := newFakeClock()
	l := newRateLimiter(clock, 1, 0)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx, 1))
	cancel()
	assert.ErrorIs(t, l.Wait(ctx, 1), context.Canceled)

	requests, _ := l.usage()
	assert.Equal(t, 1, requests)
}
