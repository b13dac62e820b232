package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := FixedPolicy{MaxRetries: 2, Delay: 50 * time.Millisecond}
	boom := errors.New("connection reset")

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(boom, 0))
	require.True(t, p.ShouldRetry(boom, 1))
	require.False(t, p.ShouldRetry(boom, 2))
	require.False(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.Canceled), 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	require.Equal(t, 50*time.Millisecond, p.Backoff(1))
}

func TestSleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), 5*time.Millisecond))
}
