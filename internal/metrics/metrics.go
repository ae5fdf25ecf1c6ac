// Package metrics exposes the Prometheus counters/histograms named in
// SPEC_FULL.md §4.11: routing decisions, tier distribution, dispatcher
// latency and failover count, grounded on the teacher's
// internal/metrics/prometheus.go (same promauto + namespace idiom, a far
// smaller metric set since budgets/deployment-health tracking are out of
// scope here).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "throttle"

// latencyBuckets covers the sub-second-to-minute range a proxied chat
// completion call falls into; unlike the teacher's 35-bucket table this
// module only proxies, so a coarser table suffices.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60, 120,
}

var (
	// RoutingDecisions counts every routing decision by chosen tier and
	// override kind, i.e. the tier-distribution metric named in the spec.
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total routing decisions by tier, mode and override kind",
		},
		[]string{"tier", "mode", "override"},
	)

	// DispatchLatency tracks upstream dispatch latency by provider and
	// outcome. The routing log records the same dispatch-only latency, in
	// milliseconds.
	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Upstream dispatch latency in seconds",
			Buckets:   latencyBuckets,
		},
		[]string{"provider", "model", "outcome"},
	)

	// Failovers counts Anthropic dual-key failovers, labeled by the key
	// type that took over.
	Failovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dual_key_failovers_total",
			Help:      "Total Anthropic dual-key failovers by resulting key type",
		},
		[]string{"key_type"},
	)

	// DedupHits counts requests served from the in-flight/completed dedup
	// cache instead of dispatching upstream.
	DedupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Total requests served from the dedup cache",
		},
		[]string{"source"}, // "completed" or "waiter"
	)
)
