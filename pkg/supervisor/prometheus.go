package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	stateTransitions *prometheus.CounterVec

	started  *prometheus.CounterVec
	exits    *prometheus.CounterVec
	restarts *prometheus.CounterVec
	vetoes   prometheus.Counter

	shutdownDuration *prometheus.HistogramVec

	running    prometheus.Gauge
	windowSize prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
// registered on its own registry
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "supervisor"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of supervisor state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	pmc.started = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "children_started_total",
			Help:      "Total number of child processes launched",
		},
		[]string{"child_id"},
	)

	pmc.exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_exits_total",
			Help:      "Total number of observed child exits",
		},
		[]string{"child_id", "class"},
	)

	pmc.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Total number of child restarts",
		},
		[]string{"child_id", "strategy"},
	)

	pmc.vetoes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intensity_exceeded_total",
			Help:      "Total number of restart intensity escalations",
		},
	)

	pmc.shutdownDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shutdown_duration_seconds",
			Help:      "Time from the first termination signal to the child exit",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"child_id", "policy"},
	)

	pmc.running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "children_running",
			Help:      "Current number of running child processes",
		},
	)

	pmc.windowSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "restart_window_size",
			Help:      "Restarts counted inside the current intensity period",
		},
	)

	pmc.registry.MustRegister(
		pmc.stateTransitions,
		pmc.started,
		pmc.exits,
		pmc.restarts,
		pmc.vetoes,
		pmc.shutdownDuration,
		pmc.running,
		pmc.windowSize,
	)

	return pmc
}

// StateTransition records a supervisor state change
func (pmc *PrometheusMetricsCollector) StateTransition(from, to State) {
	pmc.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// ChildStarted records a successful launch
func (pmc *PrometheusMetricsCollector) ChildStarted(childID string) {
	pmc.started.WithLabelValues(childID).Inc()
}

// ChildExited records an observed exit
func (pmc *PrometheusMetricsCollector) ChildExited(childID string, class procmgr.ExitClass) {
	pmc.exits.WithLabelValues(childID, class.String()).Inc()
}

// ChildRestart records a restart
func (pmc *PrometheusMetricsCollector) ChildRestart(childID string, strategy Strategy) {
	pmc.restarts.WithLabelValues(childID, strategy.String()).Inc()
}

// IntensityExceeded records a rate limiter veto
func (pmc *PrometheusMetricsCollector) IntensityExceeded() {
	pmc.vetoes.Inc()
}

// ShutdownDuration records a child's stop latency
func (pmc *PrometheusMetricsCollector) ShutdownDuration(childID string, policy ShutdownPolicy, duration time.Duration) {
	kind := policy.String()
	if policy.Kind == ShutdownTimeout {
		kind = "timeout"
	}
	pmc.shutdownDuration.WithLabelValues(childID, kind).Observe(duration.Seconds())
}

// ChildrenRunning records the number of running children
func (pmc *PrometheusMetricsCollector) ChildrenRunning(n int) {
	pmc.running.Set(float64(n))
}

// RestartWindowSize records the current restart window size
func (pmc *PrometheusMetricsCollector) RestartWindowSize(n int) {
	pmc.windowSize.Set(float64(n))
}

// Registry returns the Prometheus registry
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

var _ MetricsCollector = (*PrometheusMetricsCollector)(nil)
