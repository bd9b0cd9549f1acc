package mindsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindsync",
			Name:      "records_enqueued_total",
			Help:      "Records written to the offline queue.",
		},
		[]string{"collection"},
	)

	recordsSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindsync",
			Name:      "records_synced_total",
			Help:      "Records confirmed accepted by the backend.",
		},
		[]string{"collection"},
	)

	submissionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindsync",
			Name:      "submission_failures_total",
			Help:      "Record submissions that returned an error.",
		},
		[]string{"collection"},
	)

	deadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindsync",
			Name:      "dead_lettered_total",
			Help:      "Records moved to the dead-letter collection.",
		},
		[]string{"collection"},
	)

	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindsync",
			Name:      "sync_runs_total",
			Help:      "Completed sync runs by outcome.",
		},
		[]string{"result"},
	)

	pendingRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mindsync",
			Name:      "pending_records",
			Help:      "Unsynced records currently queued, as of the last count.",
		},
		[]string{"collection"},
	)
)
