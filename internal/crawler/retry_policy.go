package crawler

import (
	"context"
	"errors"
	"time"
)

// BackoffPolicy is the explicit retry schedule injected into the batch fetcher.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultBackoffPolicy returns one retry with 500ms base doubling to a 2s cap.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    2 * time.Second,
	}
}

// NewBackoffPolicy builds a policy from an extra-retry count.
func NewBackoffPolicy(retries int, base, maxDelay time.Duration, multiplier float64) BackoffPolicy {
	if retries < 0 {
		retries = 0
	}
	return BackoffPolicy{
		MaxAttempts: retries + 1,
		BaseDelay:   base,
		Multiplier:  multiplier,
		MaxDelay:    maxDelay,
	}
}

// ShouldRetry decides whether another attempt is allowed after the given
// zero-based attempt failed with err.
func (p BackoffPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt+1 >= p.attempts() {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait before the attempt following the given zero-based attempt.
func (p BackoffPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p BackoffPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}
