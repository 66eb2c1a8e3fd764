package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilancio_events_appended_total",
		Help: "Total number of events committed to the event store.",
	})

	AppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilancio_append_conflicts_total",
		Help: "Total number of appends rejected because of a version conflict.",
	})

	NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilancio_notifications_delivered_total",
		Help: "Total number of outbox notifications handed to a sink.",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilancio_notification_failures_total",
		Help: "Total number of notification batches that could not be delivered.",
	})

	ViewUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilancio_view_updates_total",
		Help: "Total number of view materializations, labelled by view and status.",
	}, []string{"view", "status"})

	ViewUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bilancio_view_update_duration_ms",
		Help:    "Duration of a full view refresh in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	RejectedStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bilancio_rejected_streams",
		Help: "Streams excluded from the last snapshot because an event could not be decoded.",
	})

	ImportedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilancio_imported_files_total",
		Help: "Total number of inbox files processed, labelled by status.",
	}, []string{"status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilancio_http_requests_total",
		Help: "Total number of HTTP requests, labelled by route and status code.",
	}, []string{"route", "code"})
)
