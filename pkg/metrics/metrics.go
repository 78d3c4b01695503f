// Package metrics bundles the Prometheus collectors for a crawl session.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the crawl collectors on a dedicated registry so tests and
// embedded callers never collide with the global default.
type Metrics struct {
	Registry           *prometheus.Registry
	PagesTotal         *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	RecordsTotal       *prometheus.CounterVec
	RetryAttemptsTotal prometheus.Counter
	FailuresTotal      *prometheus.CounterVec
	GapRangesTotal     prometheus.Counter
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certcrawler_pages_total",
			Help: "Pages fetched, by pass and outcome.",
		},
		[]string{"pass", "outcome"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certcrawler_fetch_duration_seconds",
			Help:    "Fetch latency by pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pass"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certcrawler_records_total",
			Help: "Records persisted, split into new and updated.",
		},
		[]string{"kind"},
	)
	retryAttempts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certcrawler_retry_attempts_total",
			Help: "Per-item retry attempts executed across all passes.",
		},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certcrawler_failures_total",
			Help: "Terminal failures by error category.",
		},
		[]string{"category"},
	)
	gapRanges := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certcrawler_gap_ranges_total",
			Help: "Gap ranges re-collected.",
		},
	)

	registry.MustRegister(pages, fetchDuration, records, retryAttempts, failures, gapRanges)

	return &Metrics{
		Registry:           registry,
		PagesTotal:         pages,
		FetchDuration:      fetchDuration,
		RecordsTotal:       records,
		RetryAttemptsTotal: retryAttempts,
		FailuresTotal:      failures,
		GapRangesTotal:     gapRanges,
	}
}

// ObservePage records one settled page fetch. All helpers are nil-safe so
// metrics stay optional.
func (m *Metrics) ObservePage(pass, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(pass, outcome).Inc()
	m.FetchDuration.WithLabelValues(pass).Observe(d.Seconds())
}

// AddRecords counts persisted records of the given kind ("new"/"updated").
func (m *Metrics) AddRecords(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(kind).Add(float64(n))
}

// IncRetryAttempt counts one per-item retry attempt.
func (m *Metrics) IncRetryAttempt() {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.Inc()
}

// IncFailure counts a terminal failure under its error category.
func (m *Metrics) IncFailure(category string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(category).Inc()
}

// IncGapRange counts one re-collected gap range.
func (m *Metrics) IncGapRange() {
	if m == nil {
		return
	}
	m.GapRangesTotal.Inc()
}
