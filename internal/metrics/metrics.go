// Package metrics exposes the process's Prometheus counters/gauges over
// /metrics (spec.md 10.5), grounded on the retrieval pack's
// prometheus/client_golang metrics packages (e.g. cuemby-warren's
// pkg/metrics): package-level collectors registered once at import time,
// read by a promhttp.Handler at the composition root.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	// SyncRunsTotal counts completed syncAllGroups/syncGroup runs by outcome.
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communityevents_sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"},
	)

	// EventsSyncedTotal counts events created/updated/deleted across all syncs.
	EventsSyncedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communityevents_events_synced_total",
			Help: "Total number of events created, updated, or deleted by sync",
		},
		[]string{"action"},
	)

	// QueueBatchesTotal counts claimed event-bus batches.
	QueueBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "communityevents_queue_batches_total",
			Help: "Total number of domain-event batches claimed by the dispatcher",
		},
	)

	// QueueHandlerErrorsTotal counts handler failures, by event type.
	QueueHandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communityevents_queue_handler_errors_total",
			Help: "Total number of domain-event handler failures",
		},
		[]string{"event_type"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communityevents_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by result",
		},
		[]string{"result"},
	)

	// AchievementsUnlockedTotal counts achievement completions.
	AchievementsUnlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "communityevents_achievements_unlocked_total",
			Help: "Total number of achievement completions",
		},
	)

	// WebsocketConnectionsActive tracks live push connections.
	WebsocketConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "communityevents_websocket_connections_active",
			Help: "Current number of active websocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SyncRunsTotal,
		EventsSyncedTotal,
		QueueBatchesTotal,
		QueueHandlerErrorsTotal,
		WebhookDeliveriesTotal,
		AchievementsUnlockedTotal,
		WebsocketConnectionsActive,
	)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
