package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the subsystem emits. Collectors are bound to
// the registry passed to New, never to the global default registry.
type Metrics struct {
	// CacheRequests counts cache reads by strategy (pass_through, logical)
	// and outcome (hit, miss, negative, stale).
	CacheRequests *prometheus.CounterVec

	CacheRebuilds   prometheus.Counter
	RebuildFailures prometheus.Counter
	LockContention  prometheus.Counter

	// Admissions counts flash-sale decisions by result
	// (accepted, no_stock, duplicate).
	Admissions       *prometheus.CounterVec
	AdmissionSeconds prometheus.Histogram

	OrdersPersisted prometheus.Counter
	PendingReplays  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Cache reads by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		CacheRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_rebuilds_total",
			Help: "Background cache rebuilds completed.",
		}),
		RebuildFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cache_rebuild_failures_total",
			Help: "Background cache rebuilds that failed.",
		}),
		LockContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "lock_contention_total",
			Help: "Lock acquisitions lost to another holder.",
		}),
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_admissions_total",
			Help: "Flash-sale admission decisions by result.",
		}, []string{"result"}),
		AdmissionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seckill_admission_seconds",
			Help:    "Latency of the full admission decision.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		OrdersPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_persisted_total",
			Help: "Orders written to the source of record.",
		}),
		PendingReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_pending_replays_total",
			Help: "Log entries reprocessed through the pending-recovery path.",
		}),
	}
}
