// Package retry includes tests for the retry policy.
package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPolicy_Retry covers the attempt budget.
func TestPolicy_Retry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    bool
	}{
		{"default first attempt", Default(), 1, true},
		{"default exhausted", Default(), 2, false},
		{"zero attempts means one", Policy{}, 1, false},
		{"three attempts", Policy{MaxAttempts: 3}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.policy.Retry(tt.attempt))
		})
	}
}

// TestPolicy_BackoffBounds checks that backoff stays within its jitter window and cap.
func TestPolicy_BackoffBounds(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d1 := p.Backoff(1)
		assert.GreaterOrEqual(t, d1, 50*time.Millisecond)
		assert.Less(t, d1, 100*time.Millisecond)

		d2 := p.Backoff(2)
		assert.GreaterOrEqual(t, d2, 100*time.Millisecond)
		assert.Less(t, d2, 200*time.Millisecond)

		capped := p.Backoff(6)
		assert.GreaterOrEqual(t, capped, 150*time.Millisecond)
		assert.Less(t, capped, 300*time.Millisecond)
	}
	assert.Zero(t, Policy{}.Backoff(3))
}

// TestPolicy_WaitHonorsContext ensures Wait returns when the context ends.
func TestPolicy_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Policy{BaseDelay: time.Hour}.Wait(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, Policy{}.Wait(context.Background(), 1))
}
