// Package metrics defines the Prometheus metric collectors of the review
// index and exposes an HTTP handler for scraping. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of the index engine.
type Metrics struct {
	DocsIndexedTotal     prometheus.Counter
	IndexFlushesTotal    *prometheus.CounterVec
	MergesTotal          *prometheus.CounterVec
	MergeDuration        *prometheus.HistogramVec
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         prometheus.Histogram
	QueryResultsCount    prometheus.Histogram
	LiveSegments         prometheus.Gauge
	InvalidatedDocsTotal prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	EventsConsumedTotal  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "review_index_docs_indexed_total",
				Help: "Total reviews committed to the index.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_index_flushes_total",
				Help: "Segment flushes by status.",
			},
			[]string{"status"},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_index_merges_total",
				Help: "Segment merges by kind (cascade, full) and status.",
			},
			[]string{"kind", "status"},
		),
		MergeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "review_index_merge_duration_seconds",
				Help:    "Segment merge duration in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"kind"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_index_queries_total",
				Help: "Term queries by result type (hit, empty, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "review_index_query_latency_seconds",
				Help:    "Term query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "review_index_query_results_count",
				Help:    "Postings returned per term query.",
				Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
		),
		LiveSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "review_index_live_segments",
				Help: "Number of committed segments.",
			},
		),
		InvalidatedDocsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "review_index_invalidated_docs_total",
				Help: "Total review ids appended to the invalidation file.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "review_index_cache_hits_total",
				Help: "Total posting cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "review_index_cache_misses_total",
				Help: "Total posting cache misses.",
			},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_index_events_consumed_total",
				Help: "Ingestion events by operation and status.",
			},
			[]string{"op", "status"},
		),
	}

	reg.MustRegister(
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.MergesTotal,
		m.MergeDuration,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryResultsCount,
		m.LiveSegments,
		m.InvalidatedDocsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsConsumedTotal,
	)

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) DocsIndexed(n int) {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Add(float64(n))
}

func (m *Metrics) Flush(err error) {
	if m == nil {
		return
	}
	m.IndexFlushesTotal.WithLabelValues(status(err)).Inc()
}

// Merge records one merge of the given kind.
func (m *Metrics) Merge(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(kind, status(err)).Inc()
	if err == nil {
		m.MergeDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) Query(d time.Duration, results int, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.QueriesTotal.WithLabelValues("error").Inc()
		return
	case results == 0:
		m.QueriesTotal.WithLabelValues("empty").Inc()
	default:
		m.QueriesTotal.WithLabelValues("hit").Inc()
	}
	m.QueryLatency.Observe(d.Seconds())
	m.QueryResultsCount.Observe(float64(results))
}

func (m *Metrics) Segments(n int) {
	if m == nil {
		return
	}
	m.LiveSegments.Set(float64(n))
}

func (m *Metrics) Invalidated(n int) {
	if m == nil {
		return
	}
	m.InvalidatedDocsTotal.Add(float64(n))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) Event(op string, err error) {
	if m == nil {
		return
	}
	m.EventsConsumedTotal.WithLabelValues(op, status(err)).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
