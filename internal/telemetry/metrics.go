// Package telemetry provides Prometheus instrumentation for Kestrel.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veritas-id/kestrel/internal/domain"
)

// Metrics holds all Prometheus collectors for the service. Each instance
// carries its own registry so tests can create collectors without fighting
// over global registration.
type Metrics struct {
	registry *prometheus.Registry

	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	RuleErrorsTotal    *prometheus.CounterVec
	ReloadsTotal       *prometheus.CounterVec
	ActiveRules        prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors. A nil registry yields a
// fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Name:      "evaluations_total",
				Help:      "Total risk evaluations by decision.",
			},
			[]string{"decision"},
		),

		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kestrel",
				Name:      "evaluation_duration_seconds",
				Help:      "End-to-end risk evaluation duration in seconds.",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"decision"},
		),

		RuleErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Name:      "rule_errors_total",
				Help:      "Total rule evaluation errors by rule ID.",
			},
			[]string{"rule_id"},
		),

		ReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Name:      "rule_reloads_total",
				Help:      "Total rule-set reload attempts by result.",
			},
			[]string{"result"},
		),

		ActiveRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kestrel",
				Name:      "active_rules",
				Help:      "Number of enabled rules in the active snapshot.",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, route pattern, and status bucket.",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kestrel",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.RuleErrorsTotal,
		m.ReloadsTotal,
		m.ActiveRules,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveEvaluation records one completed evaluation.
func (m *Metrics) ObserveEvaluation(decision domain.Decision, duration time.Duration, ruleResults []domain.RuleExecutionResult) {
	m.EvaluationsTotal.WithLabelValues(string(decision)).Inc()
	m.EvaluationDuration.WithLabelValues(string(decision)).Observe(duration.Seconds())

	for _, r := range ruleResults {
		if r.Error != "" {
			m.RuleErrorsTotal.WithLabelValues(r.ID).Inc()
		}
	}
}

// ObserveReload records one reload attempt and, on success, the resulting
// enabled-rule count.
func (m *Metrics) ObserveReload(err error, enabledRules int) {
	if err != nil {
		m.ReloadsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.ReloadsTotal.WithLabelValues("success").Inc()
	m.ActiveRules.Set(float64(enabledRules))
}

// ObserveHTTPRequest records one HTTP request against its route pattern.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusBucket(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
