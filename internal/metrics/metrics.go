// Package metrics exposes prometheus collectors for the staging lifecycle,
// extraction outcomes and ingest deduplication.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/expense-intake/constants"
)

const namespace = "expense_intake"

// Metrics holds the collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	backend     *prometheus.HistogramVec
	backendErrs *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	reclaimed   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "staging_transitions_total",
				Help:      "Staged document status transitions.",
			},
			[]string{"from", "to"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_processed_total",
				Help:      "Processing attempts by method and error kind.",
			},
			[]string{"method", "error_kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "document_processing_seconds",
				Help:      "Wall time of one processing attempt.",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"result"},
		),
		backend: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_call_seconds",
				Help:      "Latency of OCR and LLM backend calls.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11),
			},
			[]string{"backend"},
		),
		backendErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_errors_total",
				Help:      "Failed OCR and LLM backend calls.",
			},
			[]string{"backend"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_duplicates_total",
				Help:      "Ingest requests short-circuited by content hash.",
			},
			[]string{"kind"},
		),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_leases_reclaimed_total",
			Help:      "In-progress documents released after their lease expired.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.transitions, m.outcomes, m.duration, m.backend, m.backendErrs, m.duplicates, m.reclaimed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordTransition counts a successful status write.
func (m *Metrics) RecordTransition(from, to constants.StagingStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveOutcome records one processing attempt. An empty kind means success.
func (m *Metrics) ObserveOutcome(method constants.ProcessingMethod, kind constants.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if kind != "" {
		result = "failed"
	}
	if method == "" {
		method = "none"
	}
	m.outcomes.WithLabelValues(string(method), string(kind)).Inc()
	m.duration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBackend(backend string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.backend.WithLabelValues(backend).Observe(elapsed.Seconds())
	if err != nil {
		m.backendErrs.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) RecordDuplicate(kind constants.DocumentKind) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(string(kind)).Inc()
}

// RecordReclaimed counts documents released by the stale lease sweep.
func (m *Metrics) RecordReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.Add(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
