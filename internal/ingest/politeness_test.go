package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostLimiterSpacesSameHost(t *testing.T) {
	l := NewHostLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.org/a.pdf"))
	require.NoError(t, l.Wait(ctx, "https://example.org/b.pdf"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"second request to the same host must wait the minimum delay")
}

func TestHostLimiterHostsAreIndependent(t *testing.T) {
	l := NewHostLimiter(500 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://one.example/a.pdf"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://two.example/a.pdf"))
	require.Less(t, time.Since(start), 100*time.Millisecond,
		"a fresh host must not inherit another host's delay")
}

func TestHostLimiterTreatsWWWAsSameHost(t *testing.T) {
	l := NewHostLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.org/a.pdf"))
	require.NoError(t, l.Wait(ctx, "https://www.example.org/b.pdf"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestHostLimiterDisabledWhenDelayZero(t *testing.T) {
	l := NewHostLimiter(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://example.org/a.pdf"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostLimiterHonorsContextCancel(t *testing.T) {
	l := NewHostLimiter(10 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx, "https://example.org/a.pdf"))
	cancel()
	err := l.Wait(ctx, "https://example.org/b.pdf")
	require.Error(t, err, "wait must not block past cancellation")
}
