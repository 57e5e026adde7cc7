package telemetry

import "github.com/prometheus/client_golang/prometheus"

var SyncJobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "eclosion",
		Subsystem: "sync",
		Name:      "job_duration_seconds",
		Help:      "Background sync job duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"job"},
)

var SyncJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "eclosion",
		Subsystem: "sync",
		Name:      "jobs_total",
		Help:      "Total number of sync job runs by job and outcome.",
	},
	[]string{"job", "outcome"}, // outcome: ok, error, skipped, coalesced
)

var RefundMatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "eclosion",
		Subsystem: "refunds",
		Name:      "matches_total",
		Help:      "Total number of refund matches created, by kind.",
	},
	[]string{"kind"}, // kind: matched, expected, skipped
)

var RefundUpstreamSideEffectFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "eclosion",
		Subsystem: "refunds",
		Name:      "upstream_side_effect_failures_total",
		Help:      "Total number of best-effort upstream side-effects that failed and were swallowed.",
	},
)

var NotesInheritanceLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "eclosion",
		Subsystem: "notes",
		Name:      "inheritance_lookups_total",
		Help:      "Total number of effective-note lookups, by whether the result was inherited.",
	},
	[]string{"inherited"}, // "true" or "false"
)

var IPLockoutsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "eclosion",
		Subsystem: "security",
		Name:      "ip_lockouts_total",
		Help:      "Total number of IPs transitioned into LockedOut state.",
	},
)

// All returns all eclosion-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SyncJobDuration,
		SyncJobsTotal,
		RefundMatchesTotal,
		RefundUpstreamSideEffectFailuresTotal,
		NotesInheritanceLookupsTotal,
		IPLockoutsTotal,
	}
}
