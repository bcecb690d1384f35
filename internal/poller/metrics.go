package poller

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting poll cycle activity.
type Metrics struct {
	cycleDuration    prometheus.Histogram
	eventsTotal      *prometheus.CounterVec
	tenantFailures   prometheus.Counter
	cursorsHeldTotal *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Pass a fresh registry in tests.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ada",
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full poll cycles.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ada",
			Subsystem: "poller",
			Name:      "events_total",
			Help:      "Inbound events by channel and routing outcome.",
		},
		[]string{"channel", "outcome"},
	)
	tenantFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ada",
			Subsystem: "poller",
			Name:      "tenant_failures_total",
			Help:      "Tenant poll attempts that ended in an error.",
		},
	)
	cursorsHeld := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ada",
			Subsystem: "poller",
			Name:      "cursors_held_total",
			Help:      "Batches whose cursor was held back by a failing event.",
		},
		[]string{"channel"},
	)

	collectors := []prometheus.Collector{cycleDuration, eventsTotal, tenantFailures, cursorsHeld}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		cycleDuration:    cycleDuration,
		eventsTotal:      eventsTotal,
		tenantFailures:   tenantFailures,
		cursorsHeldTotal: cursorsHeld,
	}
}

// ObserveCycle records a completed poll cycle.
func (m *Metrics) ObserveCycle(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(elapsed.Seconds())
}

// ObserveEvent records one routed event.
func (m *Metrics) ObserveEvent(channel, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveTenantFailure records a failed tenant poll attempt.
func (m *Metrics) ObserveTenantFailure() {
	if m == nil {
		return
	}
	m.tenantFailures.Inc()
}

// ObserveCursorHeld records a batch left before the watermark for retry.
func (m *Metrics) ObserveCursorHeld(channel string) {
	if m == nil {
		return
	}
	m.cursorsHeldTotal.WithLabelValues(channel).Inc()
}
