package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting reasoning loop activity.
type Metrics struct {
	runDuration       *prometheus.HistogramVec
	runIterations     prometheus.Histogram
	invocationsTotal  *prometheus.CounterVec
	invocationSeconds *prometheus.HistogramVec
	invocationsActive prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Collectors are created only once to avoid
// duplicate registration panics when multiple engines are constructed.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Pass a fresh registry in tests. Registration errors panic, mirroring
// promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ada",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Duration of reasoning loop runs.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stop_reason"},
	)
	runIterations := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ada",
			Subsystem: "orchestrator",
			Name:      "run_iterations",
			Help:      "Reasoning iterations per run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20},
		},
	)
	invocationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ada",
			Subsystem: "orchestrator",
			Name:      "capability_invocations_total",
			Help:      "Capability invocations by name and outcome.",
		},
		[]string{"capability", "outcome"},
	)
	invocationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ada",
			Subsystem: "orchestrator",
			Name:      "capability_duration_seconds",
			Help:      "Capability execution time.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"capability"},
	)
	invocationsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ada",
			Subsystem: "orchestrator",
			Name:      "capability_invocations_active",
			Help:      "Capability invocations currently executing.",
		},
	)

	collectors := []prometheus.Collector{runDuration, runIterations, invocationsTotal, invocationSeconds, invocationsActive}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		runDuration:       runDuration,
		runIterations:     runIterations,
		invocationsTotal:  invocationsTotal,
		invocationSeconds: invocationSeconds,
		invocationsActive: invocationsActive,
	}
}

// ObserveRun records the end of one reasoning loop run.
func (m *Metrics) ObserveRun(tenantID, stopReason string, elapsed time.Duration, iterations int) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(stopReason).Observe(elapsed.Seconds())
	m.runIterations.Observe(float64(iterations))
}

// ObserveInvocationStart marks a capability execution in flight.
func (m *Metrics) ObserveInvocationStart(capabilityName string) {
	if m == nil {
		return
	}
	m.invocationsActive.Inc()
}

// ObserveInvocationDone records a finished capability execution.
func (m *Metrics) ObserveInvocationDone(capabilityName string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocationsActive.Dec()
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.invocationsTotal.WithLabelValues(capabilityName, outcome).Inc()
	m.invocationSeconds.WithLabelValues(capabilityName).Observe(elapsed.Seconds())
}
