// Package metrics holds the Prometheus collectors shared by the usage log,
// the rate limiter middleware and the HTTP layer. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docrelay"

// Metrics groups every collector the service exports.
type Metrics struct {
	eventsIngested *prometheus.CounterVec
	ingestionLag   prometheus.Histogram
	rateLimit      *prometheus.CounterVec
	exports        *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_events_ingested_total",
				Help:      "Total number of usage events written to the log.",
			},
			[]string{"record_type", "event_type"},
		),
		ingestionLag: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "usage_ingestion_lag_seconds",
				Help:      "Time between an event's createdAt and its ingestion.",
				Buckets:   []float64{0.005, 0.05, 0.5, 1, 5, 30, 60, 300, 3600},
			},
		),
		rateLimit: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limiter admissions and denials.",
			},
			[]string{"endpoint", "decision"},
		),
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_exports_total",
				Help:      "CSV export attempts by outcome.",
			},
			[]string{"outcome"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served.",
			},
			[]string{"method", "status"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method"},
		),
	}
	reg.MustRegister(m.eventsIngested, m.ingestionLag, m.rateLimit, m.exports, m.requests, m.requestLatency)
	return m
}

// EventIngested records one successful append.
func (m *Metrics) EventIngested(recordType, eventType string, lag time.Duration) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(recordType, eventType).Inc()
	if lag >= 0 {
		m.ingestionLag.Observe(lag.Seconds())
	}
}

// RateLimitDecision records an admission check.
func (m *Metrics) RateLimitDecision(endpoint string, admitted bool) {
	if m == nil {
		return
	}
	decision := "admitted"
	if !admitted {
		decision = "denied"
	}
	m.rateLimit.WithLabelValues(endpoint, decision).Inc()
}

// Export records an export outcome: "ok", "too_large" or "error".
func (m *Metrics) Export(outcome string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(outcome).Inc()
}

// Request records one served HTTP request.
func (m *Metrics) Request(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, status).Inc()
	m.requestLatency.WithLabelValues(method).Observe(d.Seconds())
}
