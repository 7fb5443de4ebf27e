// Package metrics provides Prometheus metrics for the forge orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	BuildsTotal         *prometheus.CounterVec
	PhaseTransitions    *prometheus.CounterVec
	BuildDuration       prometheus.Histogram
	ClarificationsTotal *prometheus.CounterVec
	ActivitiesTotal     *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	StreamSubscribers   prometheus.Gauge
	CollaboratorErrors  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_builds_total",
				Help: "Total build jobs by terminal status.",
			},
			[]string{"status"},
		),
		PhaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_phase_transitions_total",
				Help: "Phase transitions by target phase.",
			},
			[]string{"phase"},
		),
		BuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forge_build_duration_seconds",
				Help:    "Wall-clock duration of completed builds.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
			},
		),
		ClarificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_clarifications_total",
				Help: "Clarification outcomes: answered, auto_resumed.",
			},
			[]string{"outcome"},
		),
		ActivitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_activities_total",
				Help: "Parsed agent activities by type.",
			},
			[]string{"type"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forge_breaker_state",
				Help: "Circuit breaker state per collaborator (0 closed, 1 half-open, 2 open).",
			},
			[]string{"collaborator"},
		),
		StreamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "forge_stream_subscribers",
				Help: "Currently connected live-feed subscribers.",
			},
		),
		CollaboratorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_collaborator_errors_total",
				Help: "Failed collaborator calls by service.",
			},
			[]string{"service"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.BuildsTotal,
		m.PhaseTransitions,
		m.BuildDuration,
		m.ClarificationsTotal,
		m.ActivitiesTotal,
		m.BreakerState,
		m.StreamSubscribers,
		m.CollaboratorErrors,
	)

	return m
}

// Handler returns the HTTP handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
