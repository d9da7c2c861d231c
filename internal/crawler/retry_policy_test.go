package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewBackoffPolicy(4, 500*time.Millisecond, 2*time.Second, 2)
	require.Equal(t, 5, p.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, p.Backoff(0))
	require.Equal(t, time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 2*time.Second, p.Backoff(3), "delay must be capped")

	require.Zero(t, BackoffPolicy{}.Backoff(3))
}

func TestBackoffPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := DefaultBackoffPolicy()
	boom := errors.New("boom")

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(boom, 0))
	require.False(t, p.ShouldRetry(boom, 1), "attempts exhausted")
	require.False(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.Canceled), 0))

	require.False(t, NewBackoffPolicy(-3, 0, 0, 0).ShouldRetry(boom, 0))
}
