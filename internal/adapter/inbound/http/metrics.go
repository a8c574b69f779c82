// Package http provides the HTTP transport adapter for the governance
// engine.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Fiduciarygate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	EvaluationsTotal   *prometheus.CounterVec
	EscalationsTotal   prometheus.Counter
	EscalationsPending prometheus.Gauge
	NonceReplaysTotal  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fiduciarygate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fiduciarygate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		EvaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fiduciarygate",
				Name:      "evaluations_total",
				Help:      "Total governance evaluations",
			},
			[]string{"decision", "state"}, // decision=ALLOW/BLOCK
		),
		EscalationsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "fiduciarygate",
				Name:      "escalations_total",
				Help:      "Total escalations created by tripped breakers",
			},
		),
		EscalationsPending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fiduciarygate",
				Name:      "escalations_pending",
				Help:      "Escalations currently awaiting human review",
			},
		),
		NonceReplaysTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "fiduciarygate",
				Name:      "nonce_replays_total",
				Help:      "Requests rejected for nonce replay",
			},
		),
	}
}

// RegisterActiveSessions exposes the active-session count as a gauge read
// from store state on every scrape. Revocation is idempotent and sessions
// expire without a request touching them, so a push-based gauge drifts.
func RegisterActiveSessions(reg prometheus.Registerer, count func() float64) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "fiduciarygate",
			Name:      "active_sessions",
			Help:      "Number of active delegation sessions",
		},
		count,
	))
}
