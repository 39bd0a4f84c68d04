// Package ratelimit includes tests for per-host request spacing.
package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWaitSpacesSameHost ensures a second request to a host waits for its token.
func TestWaitSpacesSameHost(t *testing.T) {
	l := New(100 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://konfiskat-gov.ru/a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://konfiskat-gov.ru/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

// TestWaitHostsAreIndependent ensures hosts do not share tokens.
func TestWaitHostsAreIndependent(t *testing.T) {
	l := New(time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://konfiskat-gov.ru/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://fiol.rosim.gov.ru/mk/"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestWaitHonorsContext ensures a waiting request stops with its context.
func TestWaitHonorsContext(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.Wait(context.Background(), "https://konfiskat-gov.ru/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://konfiskat-gov.ru/")
	assert.ErrorContains(t, err, "rate limit wait")
}

// TestDisabled ensures a zero interval never waits.
func TestDisabled(t *testing.T) {
	l := New(0)
	ctx := context.Background()
	start := time.Now()
	for range 5 {
		require.NoError(t, l.Wait(ctx, "https://konfiskat-gov.ru/"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
