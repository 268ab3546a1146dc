package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the orchestrator system.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ActiveExecutions     prometheus.Gauge
	TokensUsed           prometheus.Counter
	ExecutionCost        prometheus.Counter
	ValidationsTotal     *prometheus.CounterVec
	ValidationDuration   *prometheus.HistogramVec
	ViolationsTotal      *prometheus.CounterVec
	StaleSweepsTotal     prometheus.Counter
	StaleExecutionsSwept prometheus.Counter
	RequestsInFlight     prometheus.Gauge
	InputSizeBytes       prometheus.Histogram
	OutputSizeBytes      prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orchestrator",
				Name:      "executions_total",
				Help:      "Total number of agent executions by provider and terminal status.",
			},
			[]string{"provider", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "orchestrator",
				Name:      "execution_duration_seconds",
				Help:      "Duration of agent executions in seconds.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "orchestrator",
				Name:      "active_executions",
				Help:      "Number of currently running agent executions.",
			},
		),

		TokensUsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "orchestrator",
				Name:      "tokens_used_total",
				Help:      "Total provider tokens consumed by completed executions.",
			},
		),

		ExecutionCost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "orchestrator",
				Name:      "execution_cost_total",
				Help:      "Total estimated provider cost of completed executions.",
			},
		),

		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guardrails",
				Name:      "validations_total",
				Help:      "Total guardrail validations by source and risk level.",
			},
			[]string{"source", "risk_level"},
		),

		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "guardrails",
				Name:      "validation_duration_seconds",
				Help:      "Duration of guardrail validation calls.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"source"},
		),

		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guardrails",
				Name:      "violations_total",
				Help:      "Total guardrail violations by type.",
			},
			[]string{"type"},
		),

		StaleSweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "orchestrator",
				Name:      "stale_sweeps_total",
				Help:      "Total staleness sweep passes.",
			},
		),

		StaleExecutionsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "orchestrator",
				Name:      "stale_executions_swept_total",
				Help:      "Total executions forced to timeout by the staleness sweep.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "orchestrator",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		InputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "orchestrator",
				Name:      "input_size_bytes",
				Help:      "Size of execution input prompts in bytes.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "orchestrator",
				Name:      "output_size_bytes",
				Help:      "Size of generated output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.TokensUsed,
		m.ExecutionCost,
		m.ValidationsTotal,
		m.ValidationDuration,
		m.ViolationsTotal,
		m.StaleSweepsTotal,
		m.StaleExecutionsSwept,
		m.RequestsInFlight,
		m.InputSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a terminal execution.
func (m *Metrics) RecordExecution(provider, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(provider, status).Inc()
	m.ExecutionDuration.WithLabelValues(provider).Observe(durationSec)
}

// RecordValidation records a guardrail validation outcome.
func (m *Metrics) RecordValidation(source, riskLevel string, durationSec float64) {
	m.ValidationsTotal.WithLabelValues(source, riskLevel).Inc()
	m.ValidationDuration.WithLabelValues(source).Observe(durationSec)
}

// RecordViolation records a guardrail violation by type.
func (m *Metrics) RecordViolation(violationType string) {
	m.ViolationsTotal.WithLabelValues(violationType).Inc()
}

// RecordUsage records token and cost usage for a completed execution.
func (m *Metrics) RecordUsage(tokens int, cost float64) {
	m.TokensUsed.Add(float64(tokens))
	m.ExecutionCost.Add(cost)
}
