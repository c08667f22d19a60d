// Package telemetry exposes Prometheus instrumentation for the sync
// pipeline. The desktop sidecar serves these on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCycles counts completed sync cycles by outcome
	// (completed/failed/skipped).
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delilog_sync_cycles_total",
		Help: "Total number of sync cycles by outcome",
	}, []string{"outcome"})

	// OperationsPushed counts queue operations delivered to the remote
	// store, labelled by entity type and action.
	OperationsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delilog_sync_operations_pushed_total",
		Help: "Total number of queue operations delivered to the remote store",
	}, []string{"entity_type", "action"})

	// OperationsFailed counts delivery failures by error class
	// (retryable/permanent).
	OperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delilog_sync_operations_failed_total",
		Help: "Total number of delivery failures by error class",
	}, []string{"class"})

	// ConflictsResolved counts last-write-wins resolutions by winner.
	ConflictsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delilog_sync_conflicts_resolved_total",
		Help: "Total number of conflicts resolved, by winning side",
	}, []string{"winner"})

	// CycleDuration measures end-to-end sync cycle time.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "delilog_sync_cycle_duration_seconds",
		Help:    "Duration of sync cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// QueueBacklog tracks operations still awaiting delivery. This is
	// the primary indicator of how far behind the device is.
	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delilog_sync_queue_backlog",
		Help: "Current number of pending operations in the sync queue",
	})

	// QueueFailed tracks operations parked after exhausting retries.
	// Growth here means user attention is needed.
	QueueFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delilog_sync_queue_failed",
		Help: "Current number of permanently failed operations in the sync queue",
	})

	// NetworkOnline provides a binary 0/1 connectivity signal.
	NetworkOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delilog_network_online",
		Help: "Current connectivity status (1 online, 0 offline)",
	})
)
