// Package metrics exposes the Prometheus metrics emitted by the
// maintainer scheduler, the node failer, the failed-node expirer, and
// the throttle engine, following the reference orchestrator's
// pkg/metrics: package-level collectors registered in init(), plus a
// Timer helper for histogram observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Maintainer scheduler metrics
	MaintainerTickTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodewatch_maintainer_tick_total",
			Help: "Total number of maintainer ticks that ran Step (gate open)",
		},
		[]string{"maintainer"},
	)

	MaintainerSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodewatch_maintainer_skipped_total",
			Help: "Total number of maintainer ticks skipped because the job-control gate was closed",
		},
		[]string{"maintainer"},
	)

	MaintainerErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodewatch_maintainer_error_total",
			Help: "Total number of maintainer ticks whose Step returned an error",
		},
		[]string{"maintainer"},
	)

	MaintainerPanicTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodewatch_maintainer_panic_total",
			Help: "Total number of maintainer ticks whose Step panicked",
		},
		[]string{"maintainer"},
	)

	MaintainerTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodewatch_maintainer_tick_duration_seconds",
			Help:    "Duration of a single maintainer tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"maintainer"},
	)

	// Node population metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodewatch_nodes_total",
			Help: "Total number of nodes by type and state",
		},
		[]string{"type", "state"},
	)

	// Failer metrics
	NodesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodewatch_nodes_failed_total",
			Help: "Total number of nodes driven to the failed state, by reason",
		},
		[]string{"reason"},
	)

	ThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodewatch_throttled_total",
			Help: "Total number of fail candidates skipped because the throttle was in effect",
		},
		[]string{"phase"},
	)

	FailActiveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nodewatch_fail_active_duration_seconds",
			Help:    "Duration of the cascaded fail-active protocol, including the deployer activate call",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
	)

	FailActiveRolledBackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nodewatch_fail_active_rolled_back_total",
			Help: "Total number of fail-active attempts that rolled the target back to active after an activation failure",
		},
	)

	// Replication metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodewatch_raft_is_leader",
			Help: "Whether this replica currently holds Raft leadership (1=leader, 0=follower)",
		},
	)

	// Expirer metrics
	NodesParkedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nodewatch_nodes_parked_total",
			Help: "Total number of nodes parked by the expirer",
		},
	)

	NodesRecycledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nodewatch_nodes_recycled_total",
			Help: "Total number of nodes set dirty by the expirer",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MaintainerTickTotal,
		MaintainerSkippedTotal,
		MaintainerErrorTotal,
		MaintainerPanicTotal,
		MaintainerTickDuration,
		NodesTotal,
		NodesFailedTotal,
		ThrottledTotal,
		FailActiveDuration,
		FailActiveRolledBackTotal,
		NodesParkedTotal,
		NodesRecycledTotal,
		RaftLeader,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
