package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for executions and steps.
type Metrics struct {
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	steps             *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	active            prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg. Registering twice with
// the same registry reuses the existing collectors.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replayer",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Script executions by outcome.",
		}, []string{"outcome"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replayer",
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of a script execution.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replayer",
			Subsystem: "executor",
			Name:      "steps_total",
			Help:      "Dispatched steps by action and outcome.",
		}, []string{"action", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replayer",
			Subsystem: "executor",
			Name:      "step_duration_seconds",
			Help:      "Round-trip time of a dispatched step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "replayer",
			Subsystem: "executor",
			Name:      "executions_active",
			Help:      "Executions currently running.",
		}),
	}

	m.executions = register(reg, m.executions).(*prometheus.CounterVec)
	m.executionDuration = register(reg, m.executionDuration).(*prometheus.HistogramVec)
	m.steps = register(reg, m.steps).(*prometheus.CounterVec)
	m.stepDuration = register(reg, m.stepDuration).(*prometheus.HistogramVec)
	m.active = register(reg, m.active).(prometheus.Gauge)
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}

// ExecutionStarted marks an execution as active.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

// ExecutionFinished records the outcome ("success" or an error kind).
func (m *Metrics) ExecutionFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.executions.WithLabelValues(outcome).Inc()
	m.executionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// StepFinished records one dispatched or skipped step.
func (m *Metrics) StepFinished(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(action, outcome).Inc()
	m.stepDuration.WithLabelValues(action).Observe(d.Seconds())
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
