// Package retry holds the backoff policy applied between attempts at a
// source that answered Blocked.
package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Policy bounds the number of attempts and spaces them with jittered
// exponential backoff.
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// Default returns the policy used when nothing is configured: two attempts
// in total, a few seconds apart.
func Default() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   3 * time.Second,
		MaxDelay:    20 * time.Second,
	}
}

// Attempts returns the total number of attempts, at least one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Retry reports whether another attempt is allowed after attempt (1-based).
func (p Policy) Retry(attempt int) bool {
	return attempt < p.Attempts()
}

// Backoff returns the wait before the attempt following attempt. The result
// lies in [d/2, d) where d doubles per attempt up to MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay/2) + jitter(time.Duration(delay)/2)
}

// Wait sleeps for Backoff(attempt) or until ctx is done.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
