package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stepClock advances a fixed amount on every Now call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestStatsSummarize(t *testing.T) {
	clk := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), step: 10 * time.Second}
	s := NewStats(clk)

	for i := 0; i < 5; i++ {
		s.AddDispatched()
	}
	s.AddSkipped()
	s.AddSkipped()

	s.AddOutcome(FetchOutcome{Kind: OutcomeSuccess, ByteSize: 100_000})
	s.AddOutcome(FetchOutcome{Kind: OutcomeSuccess, ByteSize: 50_000})
	s.AddOutcome(FetchOutcome{Kind: OutcomeRejected, Reason: RejectBadSignature})
	s.AddOutcome(FetchOutcome{Kind: OutcomeRejected, Reason: RejectHTTPStatus, HTTPStatus: 410})
	s.AddOutcome(FetchOutcome{Kind: OutcomeTransient, ErrorDetail: "timeout"})
	s.AddOutcome(FetchOutcome{Kind: OutcomeTransient, ErrorDetail: "timeout"})
	s.AddOutcome(FetchOutcome{Kind: OutcomePermanent, ErrorDetail: "HTTP 404"})
	s.AddStoreError("disk full")

	sum := s.Summarize(clk)
	require.Equal(t, 5, sum.Dispatched)
	require.Equal(t, 2, sum.Skipped)
	require.Equal(t, 2, sum.Succeeded)
	require.Equal(t, 2, sum.Rejected)
	require.Equal(t, 2, sum.Transient)
	require.Equal(t, 1, sum.Permanent)
	require.Equal(t, 1, sum.StoreErrors)
	require.Equal(t, int64(150_000), sum.Bytes)
	require.Equal(t, 10*time.Second, sum.Elapsed)
	require.InDelta(t, 0.2, sum.Throughput, 1e-9)

	require.Equal(t, 1, sum.RejectedByReason[RejectBadSignature])
	require.Equal(t, 1, sum.RejectedByReason[RejectHTTPStatus])

	require.NotEmpty(t, sum.TopErrors)
	require.Equal(t, "timeout", sum.TopErrors[0].Detail, "most frequent error first")
	require.Equal(t, 2, sum.TopErrors[0].Count)
}

func TestStatsConcurrentIncrements(t *testing.T) {
	clk := &stepClock{now: time.Unix(0, 0), step: time.Second}
	s := NewStats(clk)

	const goroutines = 32
	const perGoroutine = 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.AddDispatched()
				s.AddOutcome(FetchOutcome{Kind: OutcomeSuccess, ByteSize: 1})
			}
		}()
	}
	wg.Wait()

	sum := s.Summarize(clk)
	require.Equal(t, goroutines*perGoroutine, sum.Dispatched)
	require.Equal(t, goroutines*perGoroutine, sum.Succeeded)
	require.Equal(t, int64(goroutines*perGoroutine), sum.Bytes)
}
