package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "filesolvers"

var (
	RequestCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_created_total",
			Help:      "Total number of requests created.",
		},
	)

	FileSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_submitted_total",
			Help:      "Total number of accepted file submissions, labeled by format.",
		},
		[]string{"format"},
	)

	RequestClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_closed_total",
			Help:      "Total number of requests closed, labeled by what observed the expiry (lazy or sweep).",
		},
		[]string{"trigger"},
	)

	RewardSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_settled_total",
			Help:      "Total number of escrowed rewards released, labeled by outcome (paid or refunded).",
		},
		[]string{"outcome"},
	)

	OperationRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_rejected_total",
			Help:      "Total number of ledger operations rejected, labeled by operation and error kind.",
		},
		[]string{"operation", "kind"},
	)

	RequestLifetimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_lifetime_seconds",
			Help:      "Time from request creation to reward settlement (seconds).",
			Buckets:   []float64{60, 300, 900, 3600, 6 * 3600, 86400, 3 * 86400, 7 * 86400, 30 * 86400},
		},
		[]string{"outcome"},
	)

	StoreConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Total number of optimistic transaction retries, labeled by backend and operation.",
		},
		[]string{"backend", "operation"},
	)

	SweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expired-request sweeps (seconds).",
			Buckets:   prometheus.DefBuckets,
		},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter, labeled by scope and operation.",
		},
		[]string{"scope", "operation"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of event deliveries, labeled by sink, event type and outcome.",
		},
		[]string{"sink", "event", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCreatedTotal,
		FileSubmittedTotal,
		RequestClosedTotal,
		RewardSettledTotal,
		OperationRejectedTotal,
		RequestLifetimeSeconds,
		StoreConflictsTotal,
		SweepDurationSeconds,
		RateLimitHitsTotal,
		WebhookDeliveriesTotal,
	)
}
