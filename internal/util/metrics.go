package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickup_scans_resolved_total",
		Help: "Scanned codes by resolved kind",
	}, []string{"kind"})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickup_redemptions_total",
		Help: "Redemption requests that committed at least one reservation",
	}, []string{"mode"})

	ReservationsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickup_reservations_completed_total",
		Help: "Reservations moved to completed",
	})

	UnitsHandedOverTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickup_units_handed_over_total",
		Help: "Lot units moved from reserved to sold",
	})

	RedemptionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickup_redemption_failures_total",
		Help: "Failed redemption or claim attempts by reason",
	}, []string{"reason"})

	PartialBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickup_partial_batches_total",
		Help: "Batches where only some members were redeemed",
	})

	BasketsClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickup_baskets_claimed_total",
		Help: "Suspended baskets claimed and redeemed",
	})

	BasketClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickup_basket_claim_conflicts_total",
		Help: "Basket claims lost to a concurrent claimer",
	})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pickup_reconcile_latency_seconds",
		Help:    "Latency of the guarded inventory update",
		Buckets: prometheus.DefBuckets,
	})

	LedgerViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickup_lot_ledger_violations_total",
		Help: "Lots observed with total < reserved + sold",
	})

	SessionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickup_session_conflicts_total",
		Help: "Station session writes rejected because another writer changed it",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
