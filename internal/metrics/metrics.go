// Package metrics exposes Prometheus metrics for the poll cycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the poller's Prometheus collectors.
type Metrics struct {
	CyclesTotal      *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	RecordsAppended  prometheus.Counter
	KnownEventsSeen  prometheus.Counter
	DecodeFailures   prometheus.Counter
	LastScannedBlock prometheus.Gauge
}

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "eventwatch"
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome",
		}, []string{"status"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Poll cycle latency",
			Buckets:   prometheus.DefBuckets,
		}),
		RecordsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Event records persisted",
		}),
		KnownEventsSeen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "known_events_seen_total",
			Help:      "Fetched events that were already recorded",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Matching logs that could not be decoded",
		}),
		LastScannedBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scanned_block",
			Help:      "Upper bound of the last scanned window",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
