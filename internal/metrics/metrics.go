// Package metrics exposes Prometheus collectors for the ingest run.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsTotal         *prometheus.CounterVec
	bytesTotal             *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	rejectionsTotal        *prometheus.CounterVec
	politenessDelaySeconds *prometheus.HistogramVec
	storeFailuresTotal     prometheus.Counter
	activeWorkers          prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_total",
				Help: "Fetch attempts completed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_bytes_total",
				Help: "Bytes of successfully downloaded documents, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		rejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rejections_total",
				Help: "Validator rejections, labeled by reason.",
			},
			[]string{"reason"},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_politeness_delay_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		storeFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_store_failures_total",
				Help: "Artifact store write failures.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Workers currently processing a URL.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one completed fetch attempt.
func ObserveFetch(site string, outcome string, bytesFetched int64, duration time.Duration) {
	if documentsTotal == nil {
		return
	}
	sanitized := SanitizeSite(site)
	documentsTotal.WithLabelValues(sanitized, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytesFetched > 0 && outcome == "success" {
		bytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveRejection counts a validator rejection by reason.
func ObserveRejection(reason string) {
	if rejectionsTotal == nil {
		return
	}
	rejectionsTotal.WithLabelValues(reason).Inc()
}

// ObservePolitenessDelay records how long a worker waited for a host slot.
func ObservePolitenessDelay(host string, duration time.Duration) {
	if politenessDelaySeconds == nil {
		return
	}
	politenessDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveStoreFailure counts an artifact store write failure.
func ObserveStoreFailure() {
	if storeFailuresTotal == nil {
		return
	}
	storeFailuresTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}
