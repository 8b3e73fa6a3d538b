package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbs_tracker_orders_created_total",
		Help: "Total number of orders created during reconciliation.",
	},
		[]string{"marketplace"},
	)

	EventsAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbs_tracker_status_events_appended_total",
		Help: "Total number of status events appended to order history.",
	},
		[]string{"marketplace", "source"},
	)

	EventsSkippedDuplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbs_tracker_status_events_skipped_duplicate_total",
		Help: "Total number of status events skipped because the (status, event_at) pair already existed.",
	},
		[]string{"marketplace"},
	)

	UnknownStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbs_tracker_unknown_status_total",
		Help: "Total number of raw records skipped because their status code had no canonical mapping.",
	},
		[]string{"marketplace"},
	)

	SyncRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fbs_tracker_sync_runs_total",
		Help: "Total number of completed sync runs, including partially failed ones.",
	})

	SyncErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbs_tracker_sync_errors_total",
		Help: "Total number of per-marketplace sync failures.",
	},
		[]string{"marketplace"},
	)

	UpstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbs_tracker_upstream_retries_total",
		Help: "Total number of retried upstream page requests.",
	},
		[]string{"marketplace"},
	)

	MalformedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbs_tracker_malformed_records_total",
		Help: "Total number of upstream records skipped as malformed.",
	},
		[]string{"marketplace"},
	)
)
