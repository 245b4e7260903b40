package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/policycheck/policy-ingest/internal/metrics"
)

// signatureWindow is how many leading bytes are peeked before the
// fetcher commits to streaming the rest of the body.
const signatureWindow = 1024

// FetcherConfig controls HTTP behavior for a run.
type FetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxBytes       int64
	Concurrency    int
}

// NewHTTPClient builds the shared client every fetch goes through.
// A single tuned transport avoids per-worker connection pools.
func NewHTTPClient(cfg FetcherConfig) *http.Client {
	return &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          128,
			MaxIdleConnsPerHost:   32,
			MaxConnsPerHost:       cfg.Concurrency * 2,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.RequestTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Fetcher downloads one document per call through a shared HTTP client,
// consulting the Validator before and while streaming the body. Every
// response path terminates in exactly one FetchOutcome; nothing
// panics out of a URL's processing.
type Fetcher struct {
	client    *http.Client
	validator *Validator
	cfg       FetcherConfig
	logger    *zap.Logger
}

// NewFetcher constructs a Fetcher around the injected client.
func NewFetcher(client *http.Client, validator *Validator, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch GETs requestedURL, following redirects, and returns the typed
// outcome. FinalURL always reflects the post-redirect location while
// RequestedURL stays as given.
func (f *Fetcher) Fetch(ctx context.Context, canonicalURL, requestedURL string) FetchOutcome {
	start := time.Now()
	outcome := f.doFetch(ctx, requestedURL)
	outcome.RequestedURL = requestedURL
	outcome.CanonicalURL = canonicalURL
	outcome.Duration = time.Since(start)
	if outcome.FinalURL == "" {
		outcome.FinalURL = requestedURL
	}
	metrics.ObserveFetch(requestedURL, string(outcome.Kind), outcome.ByteSize, outcome.Duration)
	return outcome
}

func (f *Fetcher) doFetch(ctx context.Context, requestedURL string) FetchOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestedURL, nil)
	if err != nil {
		return FetchOutcome{
			Kind:        OutcomePermanent,
			ErrorDetail: "malformed URL: " + err.Error(),
		}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		kind, detail := classifyNetError(err)
		return FetchOutcome{Kind: kind, ErrorDetail: detail}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	outcome := FetchOutcome{
		FinalURL:    resp.Request.URL.String(),
		HTTPStatus:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}

	if reason, ok := f.validator.CheckHead(resp.StatusCode, resp.ContentLength); !ok {
		if reason == RejectHTTPStatus {
			outcome.Kind, outcome.Reason, outcome.ErrorDetail = classifyStatus(resp.StatusCode)
		} else {
			outcome.Kind = OutcomeRejected
			outcome.Reason = reason
		}
		return outcome
	}

	body, reason, kind, detail := f.streamBody(requestedURL, resp)
	if kind != OutcomeSuccess {
		outcome.Kind = kind
		outcome.Reason = reason
		outcome.ErrorDetail = detail
		if body != nil {
			outcome.ByteSize = int64(len(body))
		}
		return outcome
	}

	outcome.Kind = OutcomeSuccess
	outcome.SignatureOK = true
	outcome.Body = body
	outcome.ByteSize = int64(len(body))
	return outcome
}

// streamBody peeks the signature window, validates it, then copies the
// remainder under a hard byte ceiling. The ceiling is enforced on the
// running count, so a lying or absent Content-Length cannot bypass it.
func (f *Fetcher) streamBody(requestedURL string, resp *http.Response) ([]byte, RejectReason, OutcomeKind, string) {
	peek := make([]byte, signatureWindow)
	n, err := io.ReadFull(resp.Body, peek)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		kind, detail := classifyNetError(err)
		return nil, "", kind, detail
	}
	peek = peek[:n]

	if reason, ok := f.validator.CheckSignature(requestedURL, resp.Header, peek); !ok {
		return nil, reason, OutcomeRejected, ""
	}

	buf := bytes.NewBuffer(peek)
	if remaining := f.cfg.MaxBytes + 1 - int64(n); remaining > 0 {
		if _, err := io.CopyN(buf, resp.Body, remaining); err != nil && !errors.Is(err, io.EOF) {
			kind, detail := classifyNetError(err)
			return nil, "", kind, detail
		}
	}

	total := int64(buf.Len())
	if total > f.cfg.MaxBytes {
		// Abort mid-stream, discard the partial body.
		return nil, RejectTooLarge, OutcomeRejected, ""
	}
	if reason, ok := f.validator.CheckSize(total); !ok {
		return buf.Bytes(), reason, OutcomeRejected, ""
	}
	return buf.Bytes(), "", OutcomeSuccess, ""
}

// classifyStatus maps a non-200 status to the retry taxonomy: 5xx and
// 429 are worth a later re-run, other 4xx are not, and anything else
// is a plain validation rejection.
func classifyStatus(status int) (OutcomeKind, RejectReason, string) {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return OutcomeTransient, "", httpStatusDetail(status)
	case status >= 400:
		return OutcomePermanent, "", httpStatusDetail(status)
	default:
		return OutcomeRejected, RejectHTTPStatus, ""
	}
}

func httpStatusDetail(status int) string {
	return "HTTP " + strconv.Itoa(status)
}

// classifyNetError maps transport-level failures onto the taxonomy.
// Timeouts and resets are transient; DNS failures are permanent;
// anything unrecognized stays transient so a re-run can retry it.
func classifyNetError(err error) (OutcomeKind, string) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return OutcomePermanent, "DNS failure: " + dnsErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeTransient, "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTransient, "timeout"
	}
	detail := err.Error()
	if strings.Contains(detail, "connection reset") || strings.Contains(detail, "connection refused") {
		return OutcomeTransient, "connection error: " + detail
	}
	return OutcomeTransient, detail
}
