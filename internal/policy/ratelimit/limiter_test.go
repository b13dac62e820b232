package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://cdn.test/001.jpg"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://cdn.test/002.jpg"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.test/x"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.test/x"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterDisabledAndOverrides(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0, Overrides: map[string]float64{"slow.test": 0.5}})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://fast.test/x"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, l.Wait(ctx, "https://slow.test/x"))
	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(cancelled, "https://slow.test/y"))
}
