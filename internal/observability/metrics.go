package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the research aggregation service.
// Metrics are organized by subsystem: aggregated searches, per-source fetches,
// outbound backend requests, and request queues. All collectors are registered
// via promauto with the default Prometheus registry.
type Metrics struct {
	// SearchesStarted counts aggregated searches initiated.
	SearchesStarted prometheus.Counter

	// SearchesCompleted counts aggregated searches that returned a result.
	SearchesCompleted prometheus.Counter

	// SearchesEmpty counts aggregated searches that returned no records at all.
	SearchesEmpty prometheus.Counter

	// SearchDuration observes the end-to-end duration of aggregated searches in seconds.
	SearchDuration prometheus.Histogram

	// ResultsPerSearch observes the number of ranked, deduplicated records per search.
	ResultsPerSearch prometheus.Histogram

	// DuplicatesRemoved counts records dropped as near-duplicates.
	DuplicatesRemoved prometheus.Counter

	// SourceFetches counts adapter fetches, labeled by source and outcome
	// (success, empty, failed, disabled, timeout).
	SourceFetches *prometheus.CounterVec

	// SourceFetchDuration observes adapter fetch duration in seconds, labeled by source.
	SourceFetchDuration *prometheus.HistogramVec

	// RecordsBySource counts records contributed by each source before deduplication.
	RecordsBySource *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to backends, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to backends, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to backends in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts 429 responses from backends, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// QueueDepth reports tasks waiting in each backend request queue.
	QueueDepth *prometheus.GaugeVec

	// QueueWait observes how long tasks waited in a request queue before starting.
	QueueWait *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Searches
		SearchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of aggregated searches started",
		}),
		SearchesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of aggregated searches completed",
		}),
		SearchesEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_empty_total",
			Help:      "Total number of aggregated searches that found no records",
		}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of aggregated searches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		ResultsPerSearch: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "results_per_search",
			Help:      "Number of ranked records returned per aggregated search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		DuplicatesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_removed_total",
			Help:      "Total number of near-duplicate records removed",
		}),

		// Sources
		SourceFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Total number of adapter fetches by source and outcome",
		}, []string{"source", "outcome"}),
		SourceFetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of adapter fetches in seconds by source",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		RecordsBySource: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_by_source_total",
			Help:      "Total number of records returned by source before deduplication",
		}, []string{"source"}),
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP requests to search backends",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed HTTP requests to search backends",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of HTTP requests to search backends in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from search backends",
		}, []string{"source"}),

		// Queues
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_queue_depth",
			Help:      "Number of requests waiting in a backend request queue",
		}, []string{"queue"}),
		QueueWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_queue_wait_seconds",
			Help:      "Time requests spent waiting in a backend request queue",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"queue"}),
	}
}

// RecordSearchStarted records that an aggregated search has started.
func (m *Metrics) RecordSearchStarted() {
	m.SearchesStarted.Inc()
}

// RecordSearchCompleted records a finished aggregated search.
func (m *Metrics) RecordSearchCompleted(resultCount, duplicates int, durationSeconds float64) {
	m.SearchesCompleted.Inc()
	if resultCount == 0 {
		m.SearchesEmpty.Inc()
	}
	m.SearchDuration.Observe(durationSeconds)
	m.ResultsPerSearch.Observe(float64(resultCount))
	m.DuplicatesRemoved.Add(float64(duplicates))
}

// RecordSourceFetch records the outcome of one adapter fetch.
func (m *Metrics) RecordSourceFetch(source, outcome string, recordCount int, durationSeconds float64) {
	m.SourceFetches.WithLabelValues(source, outcome).Inc()
	m.SourceFetchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.RecordsBySource.WithLabelValues(source).Add(float64(recordCount))
}

// RecordSourceRequest records a request to a search backend.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a search backend.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a backend.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// SetQueueDepth reports the current depth of a request queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueWait records how long a task waited before starting.
func (m *Metrics) RecordQueueWait(queue string, waitSeconds float64) {
	m.QueueWait.WithLabelValues(queue).Observe(waitSeconds)
}
