package ingest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pdfBody(size int) []byte {
	body := make([]byte, size)
	copy(body, "%PDF-1.7\n")
	for i := len("%PDF-1.7\n"); i < size; i++ {
		body[i] = 'x'
	}
	return body
}

func newTestFetcher(t *testing.T, minBytes, maxBytes int64) *Fetcher {
	t.Helper()
	cfg := FetcherConfig{
		UserAgent:      "PolicyCheckBot/1.0 (test)",
		RequestTimeout: 5 * time.Second,
		MaxBytes:       maxBytes,
		Concurrency:    2,
	}
	validator := NewValidator(ValidatorConfig{MinBytes: minBytes, MaxBytes: maxBytes}, zap.NewNop())
	return NewFetcher(NewHTTPClient(cfg), validator, cfg, zap.NewNop())
}

func TestFetchSuccess(t *testing.T) {
	body := pdfBody(4096)
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 1024, 1<<20)
	out := f.Fetch(context.Background(), srv.URL+"/doc.pdf", srv.URL+"/doc.pdf")

	require.Equal(t, OutcomeSuccess, out.Kind)
	require.True(t, out.SignatureOK)
	require.Equal(t, int64(len(body)), out.ByteSize)
	require.True(t, bytes.Equal(body, out.Body))
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.Equal(t, "PolicyCheckBot/1.0 (test)", gotUA)
	require.Greater(t, out.Duration, time.Duration(0))
}

func TestFetchFollowsRedirects(t *testing.T) {
	body := pdfBody(2048)
	mux := http.NewServeMux()
	mux.HandleFunc("/final.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/old.pdf", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final.pdf", http.StatusMovedPermanently)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(t, 1024, 1<<20)
	out := f.Fetch(context.Background(), srv.URL+"/old.pdf", srv.URL+"/old.pdf")

	require.Equal(t, OutcomeSuccess, out.Kind)
	require.Equal(t, srv.URL+"/old.pdf", out.RequestedURL)
	require.Equal(t, srv.URL+"/final.pdf", out.FinalURL, "FinalURL should reflect the redirect target")
}

func TestFetchRejectsBadSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("<html>not a pdf</html>", 200)))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 1024, 1<<20)
	out := f.Fetch(context.Background(), srv.URL, srv.URL)

	require.Equal(t, OutcomeRejected, out.Kind)
	require.Equal(t, RejectBadSignature, out.Reason)
	require.Nil(t, out.Body)
}

func TestFetchRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 1024, 1<<20)
	out := f.Fetch(context.Background(), srv.URL, srv.URL)

	require.Equal(t, OutcomeRejected, out.Kind)
	require.Equal(t, RejectEmptyBody, out.Reason)
}

func TestFetchRejectsTooSmall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 tiny"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 20*1024, 1<<20)
	out := f.Fetch(context.Background(), srv.URL, srv.URL)

	require.Equal(t, OutcomeRejected, out.Kind)
	require.Equal(t, RejectTooSmall, out.Reason)
}

func TestFetchRejectsDeclaredOversizeBeforeStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "99999999")
		_, _ = w.Write(pdfBody(2048))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 1024, 10*1024)
	out := f.Fetch(context.Background(), srv.URL, srv.URL)

	require.Equal(t, OutcomeRejected, out.Kind)
	require.Equal(t, RejectTooLarge, out.Reason)
}

func TestFetchEnforcesCeilingOnLyingContentLength(t *testing.T) {
	// Chunked response with no Content-Length streams past the ceiling.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7\n"))
		chunk := bytes.Repeat([]byte("y"), 4096)
		for i := 0; i < 16; i++ {
			_, _ = w.Write(chunk)
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, 1024, 8*1024)
	out := f.Fetch(context.Background(), srv.URL, srv.URL)

	require.Equal(t, OutcomeRejected, out.Kind)
	require.Equal(t, RejectTooLarge, out.Reason)
	require.Nil(t, out.Body, "partial body must be discarded")
}

func TestFetchStatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantKind   OutcomeKind
		wantDetail string
	}{
		{name: "NotFound", status: http.StatusNotFound, wantKind: OutcomePermanent, wantDetail: "HTTP 404"},
		{name: "Forbidden", status: http.StatusForbidden, wantKind: OutcomePermanent, wantDetail: "HTTP 403"},
		{name: "TooManyRequests", status: http.StatusTooManyRequests, wantKind: OutcomeTransient, wantDetail: "HTTP 429"},
		{name: "InternalError", status: http.StatusInternalServerError, wantKind: OutcomeTransient, wantDetail: "HTTP 500"},
		{name: "BadGateway", status: http.StatusBadGateway, wantKind: OutcomeTransient, wantDetail: "HTTP 502"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			f := newTestFetcher(t, 1024, 1<<20)
			out := f.Fetch(context.Background(), srv.URL, srv.URL)

			require.Equal(t, tc.wantKind, out.Kind)
			require.Equal(t, tc.status, out.HTTPStatus)
			require.Equal(t, tc.wantDetail, out.ErrorDetail)
		})
	}
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg := FetcherConfig{
		UserAgent:      "PolicyCheckBot/1.0 (test)",
		RequestTimeout: 100 * time.Millisecond,
		MaxBytes:       1 << 20,
		Concurrency:    1,
	}
	validator := NewValidator(ValidatorConfig{MinBytes: 0, MaxBytes: 1 << 20}, zap.NewNop())
	f := NewFetcher(NewHTTPClient(cfg), validator, cfg, zap.NewNop())

	out := f.Fetch(context.Background(), srv.URL, srv.URL)
	require.Equal(t, OutcomeTransient, out.Kind)
	require.Equal(t, "timeout", out.ErrorDetail)
}

func TestFetchUnresolvableHostIsPermanent(t *testing.T) {
	f := newTestFetcher(t, 1024, 1<<20)
	out := f.Fetch(context.Background(),
		"https://definitely-does-not-resolve.invalid/x.pdf",
		"https://definitely-does-not-resolve.invalid/x.pdf")

	require.Equal(t, OutcomePermanent, out.Kind)
	require.Contains(t, out.ErrorDetail, "DNS failure")
}

func TestFetchMalformedURLIsPermanent(t *testing.T) {
	f := newTestFetcher(t, 1024, 1<<20)
	out := f.Fetch(context.Background(), "://no-scheme", "://no-scheme")

	require.Equal(t, OutcomePermanent, out.Kind)
	require.Contains(t, out.ErrorDetail, "malformed URL")
}

func TestClassifyStatusDefaultsToRejection(t *testing.T) {
	kind, reason, detail := classifyStatus(http.StatusNoContent)
	require.Equal(t, OutcomeRejected, kind)
	require.Equal(t, RejectHTTPStatus, reason)
	require.Empty(t, detail)
}
