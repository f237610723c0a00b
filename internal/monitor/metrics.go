package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"exercise-runner/internal/runtime"
)

// Metrics holds all Prometheus metrics for the exercise runner.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	ExecutionErrors     *prometheus.CounterVec
	ActiveExecutions    prometheus.Gauge
	RuntimeLoads        *prometheus.CounterVec
	RuntimeLoadDuration *prometheus.HistogramVec
	ChecksTotal         *prometheus.CounterVec
	SubmissionsTotal    *prometheus.CounterVec
	XPAwarded           prometheus.Counter
	HintsUsed           *prometheus.CounterVec
	XPSpent             prometheus.Counter
	RequestsInFlight    prometheus.Gauge
	CodeSizeBytes       prometheus.Histogram
	OutputSizeBytes     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Name:      "executions_total",
				Help:      "Total number of code executions by runtime kind and status.",
			},
			[]string{"kind", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "exercise",
				Name:      "execution_duration_seconds",
				Help:      "Duration of code executions in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Name:      "execution_errors_total",
				Help:      "Total execution errors by type.",
			},
			[]string{"type"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "exercise",
				Name:      "active_executions",
				Help:      "Number of executions currently running.",
			},
		),

		RuntimeLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Subsystem: "runtime",
				Name:      "loads_total",
				Help:      "Runtime load attempts by kind and status.",
			},
			[]string{"kind", "status"},
		),

		RuntimeLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "exercise",
				Subsystem: "runtime",
				Name:      "load_duration_seconds",
				Help:      "Time taken to load a runtime.",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),

		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Name:      "checks_total",
				Help:      "Test checks evaluated by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),

		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Name:      "submissions_total",
				Help:      "Exercise submissions by status.",
			},
			[]string{"status"},
		),

		XPAwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Name:      "xp_awarded_total",
				Help:      "Experience points awarded for first passing attempts.",
			},
		),

		HintsUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Name:      "hints_used_total",
				Help:      "Hint reveals, first or repeat.",
			},
			[]string{"use"},
		),

		XPSpent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "exercise",
				Name:      "xp_spent_total",
				Help:      "Experience points deducted for hints.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "exercise",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exercise",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exercise",
				Name:      "output_size_bytes",
				Help:      "Size of captured output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.ActiveExecutions,
		m.RuntimeLoads,
		m.RuntimeLoadDuration,
		m.ChecksTotal,
		m.SubmissionsTotal,
		m.XPAwarded,
		m.HintsUsed,
		m.XPSpent,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(kind, status string, durationSec float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(kind, status).Inc()
	m.ExecutionDuration.WithLabelValues(kind).Observe(durationSec)
}

// RecordError records an execution error by type.
func (m *Metrics) RecordError(errType string) {
	if m == nil {
		return
	}
	m.ExecutionErrors.WithLabelValues(errType).Inc()
}

// RecordCheck records the outcome of one test check.
func (m *Metrics) RecordCheck(kind string, passed bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.ChecksTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordSubmission records a submission and the XP it earned.
func (m *Metrics) RecordSubmission(status string, xp int) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(status).Inc()
	if xp > 0 {
		m.XPAwarded.Add(float64(xp))
	}
}

// RecordHint records a hint reveal. Repeat reveals cost nothing.
func (m *Metrics) RecordHint(alreadyUsed bool, xpCost int) {
	if m == nil {
		return
	}
	if alreadyUsed {
		m.HintsUsed.WithLabelValues("repeat").Inc()
		return
	}
	m.HintsUsed.WithLabelValues("first").Inc()
	if xpCost > 0 {
		m.XPSpent.Add(float64(xpCost))
	}
}

// ObserveLoad implements runtime.LoadObserver.
func (m *Metrics) ObserveLoad(kind runtime.Kind, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if runtime.IsUnavailable(err) {
			status = "unavailable"
		}
	}
	m.RuntimeLoads.WithLabelValues(kind.String(), status).Inc()
	m.RuntimeLoadDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}
