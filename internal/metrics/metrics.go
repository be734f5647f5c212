// Package metrics exposes Prometheus instruments for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync Metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameUploadsTotal,
			Help: HelpTextUploadsTotal,
		},
		[]string{LabelResult},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameDownloadsTotal,
			Help: HelpTextDownloadsTotal,
		},
		[]string{LabelResult},
	)

	PreLaunchDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNamePreLaunchDecisions,
			Help: HelpTextPreLaunchDecisions,
		},
		[]string{LabelOutcome},
	)

	HardcoreResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameHardcoreResolutions,
			Help: HelpTextHardcoreResolutions,
		},
		[]string{LabelChoice},
	)
)

// Snapshot Metrics
var (
	SnapshotsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSnapshotsCreated,
			Help: HelpTextSnapshotsCreated,
		},
		[]string{LabelStatus},
	)

	SnapshotsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameSnapshotsPruned,
			Help: HelpTextSnapshotsPruned,
		},
	)
)

// Queue Metrics
var (
	QueueProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameQueueProcessed,
			Help: HelpTextQueueProcessed,
		},
		[]string{LabelOutcome},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameQueueDepth,
			Help: HelpTextQueueDepth,
		},
	)
)

// Remote Metrics
var (
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameRemoteRequests,
			Help: HelpTextRemoteRequests,
		},
		[]string{LabelOperation, LabelStatus},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameRemoteRequestSeconds,
			Help:    HelpTextRemoteRequestSeconds,
			Buckets: prometheus.DefBuckets,
		},
		[]string{LabelOperation},
	)
)
