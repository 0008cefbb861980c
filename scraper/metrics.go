package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scrape sessions.
type Metrics struct {
	Registry         *prometheus.Registry
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	URLsTotal        *prometheus.CounterVec
	RecordsTotal     prometheus.Counter
	PatchesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	DiscoveryRetries prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beanscout_sessions_total",
			Help: "Scrape sessions by outcome.",
		},
		[]string{"roaster", "outcome"},
	)
	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beanscout_session_duration_seconds",
			Help:    "Wall time of completed scrape sessions.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	urls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beanscout_urls_total",
			Help: "Discovered URLs by partition class.",
		},
		[]string{"class"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beanscout_records_total",
			Help: "Full records sent to the pipeline.",
		},
	)
	patches := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beanscout_patches_total",
			Help: "Diff patches sent to the pipeline.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beanscout_errors_total",
			Help: "Per-URL failures by category.",
		},
		[]string{"category"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beanscout_discovery_retries_total",
			Help: "Retry attempts scheduled during discovery.",
		},
	)

	registry.MustRegister(sessions, sessionDuration, urls, records, patches, errorsTotal, retries)

	return &Metrics{
		Registry:         registry,
		SessionsTotal:    sessions,
		SessionDuration:  sessionDuration,
		URLsTotal:        urls,
		RecordsTotal:     records,
		PatchesTotal:     patches,
		ErrorsTotal:      errorsTotal,
		DiscoveryRetries: retries,
	}
}

// ObserveSession records a finished session's outcome and duration.
func (m *Metrics) ObserveSession(roaster, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(roaster, outcome).Inc()
	m.SessionDuration.Observe(d.Seconds())
}

// AddURLs counts discovered URLs under a partition class label.
func (m *Metrics) AddURLs(class string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.URLsTotal.WithLabelValues(class).Add(float64(n))
}

// IncRecord increments the full-record counter.
func (m *Metrics) IncRecord() {
	if m == nil {
		return
	}
	m.RecordsTotal.Inc()
}

// IncPatch increments the diff-patch counter.
func (m *Metrics) IncPatch() {
	if m == nil {
		return
	}
	m.PatchesTotal.Inc()
}

// IncError increments the per-URL failure counter for a category label.
func (m *Metrics) IncError(category string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// AddDiscoveryRetries accumulates discovery retry attempts.
func (m *Metrics) AddDiscoveryRetries(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DiscoveryRetries.Add(float64(n))
}
