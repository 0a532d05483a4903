// Package metrics exposes ingestion, job and HTTP counters on a private
// Prometheus registry. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

// Ingest stages used as the "stage" label of ingest errors.
const (
	StageList    = "list"
	StageDedupe  = "dedupe"
	StageFetch   = "fetch"
	StageArchive = "archive"
	StageInsert  = "insert"
	StageReparse = "reparse"
)

type Metrics struct {
	registry *prometheus.Registry

	factsIngested   *prometheus.CounterVec
	messagesSkipped prometheus.Counter
	ingestErrors    *prometheus.CounterVec
	factsUpdated    prometheus.Counter
	jobs            *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDurations   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		factsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_ingested_total",
			Help:      "Payment facts inserted, by kind.",
		}, []string{"kind"}),
		messagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Messages skipped because they were already ingested.",
		}),
		ingestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Ingestion failures, by stage.",
		}, []string{"stage"}),
		factsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_reparsed_total",
			Help:      "Stored facts updated by re-derivation.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Background jobs finished, by type and status.",
		}, []string{"type", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"route", "method", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		m.factsIngested,
		m.messagesSkipped,
		m.ingestErrors,
		m.factsUpdated,
		m.jobs,
		m.httpRequests,
		m.httpDurations,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FactIngested(kind domain.FactKind) {
	if m == nil {
		return
	}
	m.factsIngested.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) MessagesSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesSkipped.Add(float64(n))
}

func (m *Metrics) IngestError(stage string) {
	if m == nil {
		return
	}
	m.ingestErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) FactsUpdated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.factsUpdated.Add(float64(n))
}

func (m *Metrics) JobFinished(jobType, status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, status).Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDurations.WithLabelValues(route, method).Observe(d.Seconds())
}
