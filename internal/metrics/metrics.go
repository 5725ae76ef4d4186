// Package metrics holds the relay's Prometheus instruments. Everything is
// registered on the default registry; the API server exposes it on
// /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LogsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagr_relay_logs_received_total",
			Help: "Raw contract logs received from the chain watcher",
		},
	)

	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagr_relay_decode_failures_total",
			Help: "Contract logs dropped because they failed to decode",
		},
		[]string{"reason"},
	)

	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagr_relay_events_applied_total",
			Help: "Decoded events applied to the mirror, by event type",
		},
		[]string{"event"},
	)

	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagr_relay_duplicates_skipped_total",
			Help: "Events skipped because the audit log already held their id",
		},
		[]string{"event"},
	)

	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagr_relay_handler_failures_total",
			Help: "Events whose handler returned an error, by event type",
		},
		[]string{"event"},
	)

	NotificationsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagr_relay_notifications_persisted_total",
			Help: "Notification rows written",
		},
	)

	NotificationsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagr_relay_notifications_pushed_total",
			Help: "Realtime notification deliveries to connected sessions",
		},
	)

	WatcherReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagr_relay_watcher_reconnects_total",
			Help: "Times the log subscription was re-established",
		},
	)

	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wagr_relay_last_processed_block",
			Help: "Highest block number whose logs have been fully processed",
		},
	)
)
