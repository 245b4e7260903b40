package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/policycheck/policy-ingest/internal/metrics"
	"github.com/policycheck/policy-ingest/internal/urlkey"
)

// HostLimiter spaces requests to the same normalized host by a minimum
// delay. Hosts are independent: one slow host never stalls another.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHost  rate.Limit
}

// NewHostLimiter builds a limiter enforcing minDelay between requests
// to one host. A non-positive delay disables pacing.
func NewHostLimiter(minDelay time.Duration) *HostLimiter {
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  limit,
	}
}

// Wait blocks until the host of rawURL may be contacted, or the context
// ends.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := urlkey.Host(rawURL)
	if host == "" {
		host = "unknown"
	}

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.perHost, 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePolitenessDelay(host, waited)
	}
	return nil
}
