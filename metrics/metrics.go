// Package metrics defines the narrow observability surface the lock
// package reports into, plus a Prometheus-backed
// default implementation. New relative to the teacher (cronlock has no
// metrics layer); grounded on adrianmcphee-smarterbase's
// PrometheusMetrics (promauto-registered vectors against an explicit
// registry), adapted to a fixed set of lock-specific series instead of
// smarterbase's dynamic name-to-vector map.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the capability lock.SingleConfig and lock.RedlockConfig
// accept. A nil Collector is never passed around; callers that don't want
// metrics use NoopCollector.
type Collector interface {
	// AcquireAttempt records one acquire attempt for strategy ("single",
	// "redlock") with the given outcome ("success", "contended",
	// "error").
	AcquireAttempt(strategy, outcome string)
	// AcquireDuration records the wall-clock time a whole Acquire call
	// took, success or not.
	AcquireDuration(strategy string, d time.Duration)
	// QuorumAchieved records, for a redlock acquire, how many of the N
	// nodes accepted the lock.
	QuorumAchieved(nodes int)
	// RenewalOutcome records one auto-extension attempt ("success",
	// "refused", "error").
	RenewalOutcome(strategy, outcome string)
}

// NoopCollector discards every observation.
type NoopCollector struct{}

func (NoopCollector) AcquireAttempt(string, string)        {}
func (NoopCollector) AcquireDuration(string, time.Duration) {}
func (NoopCollector) QuorumAchieved(int)                    {}
func (NoopCollector) RenewalOutcome(string, string)         {}

// Prometheus is the default Collector, registering a fixed set of
// counters/histograms against an explicit *prometheus.Registry (never
// the global default, so an embedder can mount it under its own
// namespace without collision).
type Prometheus struct {
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	quorum    prometheus.Histogram
	renewals  *prometheus.CounterVec
	registry  *prometheus.Registry
}

// NewPrometheus constructs a Prometheus collector. If registry is nil, a
// fresh registry is created rather than reusing the global default, so
// repeated construction (e.g. in tests) never panics on duplicate
// registration.
func NewPrometheus(registry *prometheus.Registry) *Prometheus {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	p := &Prometheus{registry: registry}

	p.attempts = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redilock",
			Subsystem: "lock",
			Name:      "acquire_attempts_total",
			Help:      "Total number of lock acquire attempts.",
		},
		[]string{"strategy", "outcome"},
	)

	p.duration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "redilock",
			Subsystem: "lock",
			Name:      "acquire_duration_seconds",
			Help:      "Wall-clock duration of Acquire calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	p.quorum = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "redilock",
			Subsystem: "redlock",
			Name:      "quorum_nodes",
			Help:      "Number of nodes that accepted the lock on a successful redlock acquire.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9},
		},
	)

	p.renewals = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redilock",
			Subsystem: "extend",
			Name:      "renewal_total",
			Help:      "Total number of auto-extension renewal attempts.",
		},
		[]string{"strategy", "outcome"},
	)

	return p
}

func (p *Prometheus) AcquireAttempt(strategy, outcome string) {
	p.attempts.WithLabelValues(strategy, outcome).Inc()
}

func (p *Prometheus) AcquireDuration(strategy string, d time.Duration) {
	p.duration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (p *Prometheus) QuorumAchieved(nodes int) {
	p.quorum.Observe(float64(nodes))
}

func (p *Prometheus) RenewalOutcome(strategy, outcome string) {
	p.renewals.WithLabelValues(strategy, outcome).Inc()
}

// Registry returns the underlying registry, for mounting an HTTP handler.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }
