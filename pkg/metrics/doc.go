/*
Package metrics provides Prometheus metrics collection and exposition
for nodewatch, following the reference orchestrator's pkg/metrics:
package-level collectors registered in init(), a Timer helper for
histogram observations, and an HTTP health-check registry independent
of Prometheus.

# Metrics Catalog

Maintainer scheduler:

  - nodewatch_maintainer_tick_total{maintainer}
  - nodewatch_maintainer_skipped_total{maintainer}
  - nodewatch_maintainer_error_total{maintainer}
  - nodewatch_maintainer_panic_total{maintainer}
  - nodewatch_maintainer_tick_duration_seconds{maintainer}

Node population:

  - nodewatch_nodes_total{type,state}

Failer:

  - nodewatch_nodes_failed_total{reason}
  - nodewatch_throttled_total{phase}
  - nodewatch_fail_active_duration_seconds
  - nodewatch_fail_active_rolled_back_total

Expirer:

  - nodewatch_nodes_parked_total
  - nodewatch_nodes_recycled_total

Replication:

  - nodewatch_raft_is_leader

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.FailActiveDuration)

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
*/
package metrics
