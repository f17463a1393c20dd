// Package metrics exposes the Prometheus collectors shared across the
// service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	UpdateCycles        *prometheus.CounterVec
	UpdateDuration      prometheus.Histogram
	RecordsParsed       prometheus.Counter
	RecordsDropped      prometheus.Counter
	SnapshotRows        prometheus.Gauge
	AlertsFired         prometheus.Counter
	WatchesNotified     prometheus.Counter
	DigestsSent         *prometheus.CounterVec
	BigChangeEvents     prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsFailed prometheus.Counter
	HistoryPurgedRows   prometheus.Counter
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			UpdateCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "update_cycles_total",
				Help:      "Total rate-update cycles by outcome.",
			}, []string{"status"}),
			UpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "update_cycle_duration_seconds",
				Help:      "Latency distribution of full rate-update cycles.",
				Buckets:   prometheus.DefBuckets,
			}),
			RecordsParsed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_records_parsed_total",
				Help:      "Total records parsed from the official rate feed.",
			}),
			RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_records_dropped_total",
				Help:      "Total malformed feed records dropped during parsing.",
			}),
			SnapshotRows: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_rows",
				Help:      "Rows written by the most recent snapshot replace.",
			}),
			AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_fired_total",
				Help:      "Total alerts that met their trigger condition.",
			}),
			WatchesNotified: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "smart_watches_notified_total",
				Help:      "Total smart-exchange watch notifications sent.",
			}),
			DigestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "digests_sent_total",
				Help:      "Total digests delivered by kind.",
			}, []string{"kind"}),
			BigChangeEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "big_change_events_total",
				Help:      "Total big-change events detected.",
			}),
			NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Total notifications delivered to users.",
			}),
			NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_failed_total",
				Help:      "Total notification deliveries that failed.",
			}),
			HistoryPurgedRows: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_rows_purged_total",
				Help:      "Total history rows removed by retention cleanup.",
			}),
		}

		prometheus.MustRegister(
			metricsInstance.UpdateCycles,
			metricsInstance.UpdateDuration,
			metricsInstance.RecordsParsed,
			metricsInstance.RecordsDropped,
			metricsInstance.SnapshotRows,
			metricsInstance.AlertsFired,
			metricsInstance.WatchesNotified,
			metricsInstance.DigestsSent,
			metricsInstance.BigChangeEvents,
			metricsInstance.NotificationsSent,
			metricsInstance.NotificationsFailed,
			metricsInstance.HistoryPurgedRows,
		)
	})
	return metricsInstance
}
