package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PoolsActive tracks the number of live per-tenant pools in the cache.
var PoolsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "burrow",
		Subsystem: "pool",
		Name:      "active",
		Help:      "Number of live tenant connection pools.",
	},
)

// PoolEvictionsTotal counts pool evictions by reason (lru, ttl, manual).
var PoolEvictionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "burrow",
		Subsystem: "pool",
		Name:      "evictions_total",
		Help:      "Total pool evictions.",
	},
	[]string{"reason"},
)

// MigrationsAppliedTotal counts applied migrations by outcome.
var MigrationsAppliedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "burrow",
		Subsystem: "migrate",
		Name:      "applied_total",
		Help:      "Total migrations applied across all tenants.",
	},
	[]string{"result"},
)

// MigrationDuration tracks per-tenant migration run latency.
var MigrationDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "burrow",
		Subsystem: "migrate",
		Name:      "tenant_duration_seconds",
		Help:      "Duration of a full migration run for one tenant.",
		Buckets:   prometheus.DefBuckets,
	},
)

// DriftIssues reports the issue count found by the last drift scan, per tenant.
var DriftIssues = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "burrow",
		Subsystem: "drift",
		Name:      "issues",
		Help:      "Structural drift issues found in the last scan.",
	},
	[]string{"tenant"},
)

// NewMetricsRegistry creates a Prometheus registry with default and burrow collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PoolsActive,
		PoolEvictionsTotal,
		MigrationsAppliedTotal,
		MigrationDuration,
		DriftIssues,
	)
	return reg
}
