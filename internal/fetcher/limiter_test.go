package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiterSpacesRequests(t *testing.T) {
	l := NewHostLimiter(50*time.Millisecond, time.Second)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "blog.test"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "blog.test"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestHostLimiterHostsAreIndependent(t *testing.T) {
	l := NewHostLimiter(time.Second, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a.test"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.test"))
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"a fresh host must not inherit another host's backlog")
}

func TestHostLimiterCancelledWait(t *testing.T) {
	l := NewHostLimiter(time.Hour, 2*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx, "blog.test"))
	cancel()
	err := l.Wait(ctx, "blog.test")
	require.Error(t, err)
}

func TestHostLimiterSetDelayOnlySlowsDown(t *testing.T) {
	l := NewHostLimiter(50*time.Millisecond, time.Second)

	// Below the default: ignored.
	l.SetDelay("blog.test", 10*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "blog.test"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "blog.test"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// Above the cap: clamped rather than honoured verbatim.
	l.SetDelay("slow.test", time.Hour)
	require.NoError(t, l.Wait(ctx, "slow.test"))
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "slow.test"))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 10*time.Second)
}

func TestHostLimiterDisabledWhenNoDelay(t *testing.T) {
	l := NewHostLimiter(0, 0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background(), "blog.test"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
