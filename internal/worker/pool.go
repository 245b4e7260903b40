// Package worker implements the bounded pool that drains the
// deduplicated URL stream through the fetch-validate-persist pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/policycheck/policy-ingest/internal/hash/sha256"
	"github.com/policycheck/policy-ingest/internal/ingest"
	"github.com/policycheck/policy-ingest/internal/metrics"
	"github.com/policycheck/policy-ingest/internal/store"
	"github.com/policycheck/policy-ingest/internal/urlkey"
)

// Config controls Pool behavior.
type Config struct {
	Workers int
}

// Pool fans raw URLs out to a fixed number of workers. Each canonical
// URL is dispatched at most once per process lifetime: the seen-set
// insert happens before the job is handed to any worker.
type Pool struct {
	cfg        Config
	normalizer *urlkey.Normalizer
	seen       *ingest.SeenSet
	limiter    *ingest.HostLimiter
	fetcher    *ingest.Fetcher
	store      *store.Store
	stats      *ingest.Stats
	clock      ingest.Clock
	hasher     *sha256.Hasher
	logger     *zap.Logger
}

// New constructs a Pool.
func New(
	cfg Config,
	normalizer *urlkey.Normalizer,
	seen *ingest.SeenSet,
	limiter *ingest.HostLimiter,
	fetcher *ingest.Fetcher,
	artifactStore *store.Store,
	stats *ingest.Stats,
	clock ingest.Clock,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		cfg:        cfg,
		normalizer: normalizer,
		seen:       seen,
		limiter:    limiter,
		fetcher:    fetcher,
		store:      artifactStore,
		stats:      stats,
		clock:      clock,
		hasher:     sha256.New(),
		logger:     logger,
	}
}

type job struct {
	requestedURL string
	canonicalURL string
}

// Run drains rawURLs and blocks until every in-flight fetch has
// finished. It returns nil when the stream is exhausted, ctx.Err() when
// canceled, and a store escalation error when the output directory has
// become unusable.
func (p *Pool) Run(ctx context.Context, rawURLs []string) error {
	jobs := make(chan job)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, raw := range rawURLs {
			canonical := p.normalizer.Canonicalize(raw)
			if canonical == "" {
				p.stats.AddSkipped()
				continue
			}
			// Insert-then-dispatch: marking before the job is visible
			// to any worker closes the duplicate-dispatch race.
			if !p.seen.MarkIfNew(canonical) {
				p.stats.AddSkipped()
				p.logger.Debug("skipping duplicate", zap.String("canonical_url", canonical))
				continue
			}
			p.stats.AddDispatched()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case jobs <- job{requestedURL: raw, canonicalURL: canonical}:
			}
		}
		return nil
	})

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := p.process(ctx, j); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// process runs one URL end to end. Per-URL failures are recorded and
// absorbed; only a store escalation propagates and stops the run.
func (p *Pool) process(ctx context.Context, j job) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := p.limiter.Wait(ctx, j.requestedURL); err != nil {
		// Only context expiry gets here; the URL was never attempted.
		return nil //nolint:nilerr // cancellation is handled by the pool loop.
	}

	outcome := p.fetcher.Fetch(ctx, j.canonicalURL, j.requestedURL)

	if outcome.Kind != ingest.OutcomeSuccess {
		p.recordFailure(outcome)
		return nil
	}

	record := ingest.ArtifactRecord{
		CanonicalURL:         outcome.CanonicalURL,
		RequestedURL:         outcome.RequestedURL,
		FinalURL:             outcome.FinalURL,
		DownloadedAt:         p.clock.Now(),
		HTTPStatus:           outcome.HTTPStatus,
		SizeBytes:            outcome.ByteSize,
		ContentType:          outcome.ContentType,
		ContentHash:          p.hasher.Hash(outcome.Body),
		Country:              ingest.Unclassified,
		Insurer:              ingest.Unclassified,
		InsuranceLine:        ingest.Unclassified,
		ProductName:          ingest.Unclassified,
		ClassificationStatus: ingest.ClassificationPending,
	}

	if err := p.store.Persist(ctx, outcome.Body, record); err != nil {
		p.recordStoreError(outcome, err)
		if errors.Is(err, store.ErrTooManyStoreFailures) {
			return fmt.Errorf("persist %s: %w", j.canonicalURL, err)
		}
		return nil
	}

	p.stats.AddOutcome(outcome)
	p.logger.Info("document stored",
		zap.String("canonical_url", outcome.CanonicalURL),
		zap.String("final_url", outcome.FinalURL),
		zap.Int64("size_bytes", outcome.ByteSize),
		zap.Duration("fetch_duration", outcome.Duration),
	)
	return nil
}

func (p *Pool) recordFailure(outcome ingest.FetchOutcome) {
	p.stats.AddOutcome(outcome)
	if outcome.Kind == ingest.OutcomeRejected {
		metrics.ObserveRejection(string(outcome.Reason))
	}
	p.logger.Warn("fetch failed",
		zap.String("url", outcome.RequestedURL),
		zap.String("outcome", string(outcome.Kind)),
		zap.String("detail", outcome.Detail()),
		zap.Int("http_status", outcome.HTTPStatus),
	)
	p.appendFailure(outcome.RequestedURL, outcome.CanonicalURL, outcome.Kind, outcome.Detail())
}

func (p *Pool) recordStoreError(outcome ingest.FetchOutcome, err error) {
	p.stats.AddStoreError("store: " + err.Error())
	p.logger.Error("persist failed",
		zap.String("canonical_url", outcome.CanonicalURL),
		zap.Error(err),
	)
	p.appendFailure(outcome.RequestedURL, outcome.CanonicalURL, ingest.OutcomeStoreError, err.Error())
}

func (p *Pool) appendFailure(requested, canonical string, kind ingest.OutcomeKind, detail string) {
	record := ingest.FailureRecord{
		RequestedURL: requested,
		CanonicalURL: canonical,
		Kind:         kind,
		ErrorDetail:  detail,
		Timestamp:    p.clock.Now(),
	}
	if err := p.store.Failures().Append(record); err != nil {
		p.logger.Error("append failure log", zap.Error(err))
	}
}
