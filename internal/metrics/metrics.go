// Package metrics provides Prometheus metrics for wgstats.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Collection metrics.
	CollectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgstats",
		Subsystem: "collector",
		Name:      "collections_total",
		Help:      "Total number of collections, by result.",
	}, []string{"result"}) // "ok", "partial" or "error"
	CollectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wgstats",
		Subsystem: "collector",
		Name:      "collection_duration_seconds",
		Help:      "Time spent on one collection, including persistence.",
		Buckets:   prometheus.DefBuckets,
	})
	PeersSampled = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wgstats",
		Subsystem: "collector",
		Name:      "peers_sampled",
		Help:      "Number of peers in the most recent sample.",
	})
	PeerErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wgstats",
		Subsystem: "collector",
		Name:      "peer_errors_total",
		Help:      "Total number of peers omitted because persistence failed.",
	})

	// Reconciliation anomalies.
	CounterRollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wgstats",
		Subsystem: "store",
		Name:      "counter_rollbacks_total",
		Help:      "Total number of samples whose transfer counters went backwards.",
	})
	AnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgstats",
		Subsystem: "collector",
		Name:      "anomalies_total",
		Help:      "Total number of suspicious samples, by kind.",
	}, []string{"kind"}) // "negative_hours"

	// HTTP metrics.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgstats",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of API requests, by status code.",
	}, []string{"code"})
)

func init() {
	prometheus.MustRegister(
		CollectionsTotal,
		CollectionDuration,
		PeersSampled,
		PeerErrorsTotal,

		CounterRollbacksTotal,
		AnomaliesTotal,

		HTTPRequestsTotal,
	)
}
