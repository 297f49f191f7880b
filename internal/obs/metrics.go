// Package obs exposes pipeline metrics in Prometheus exposition format,
// served at /metrics by the trigger binary.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TickBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_tick_batches_total",
		Help: "Feed tick batches applied to the registry",
	})

	UnknownTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_unknown_tokens_total",
		Help: "Ticks dropped because their token maps to no instrument",
	})

	QueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_queue_drops_total",
		Help: "Tick batches dropped because the evaluation queue was full",
	})

	EvalPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_evaluation_passes_total",
		Help: "Trigger evaluation passes over the registry",
	})

	Candidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigger_proximity_candidates",
		Help: "Instruments inside the proximity band at the last pass",
	})

	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_orders_placed_total",
		Help: "Conditional orders successfully placed",
	})

	OrdersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_orders_failed_total",
		Help: "Conditional order placements that failed broker-side",
	})

	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_orders_rejected_total",
		Help: "Submissions rejected before reaching the broker (quota or queue)",
	})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trigger_dispatch_latency_seconds",
		Help:    "Broker call latency for conditional order placement",
		Buckets: prometheus.DefBuckets,
	})

	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigger_feed_connected",
		Help: "1 while the tick feed is connected",
	})
)
