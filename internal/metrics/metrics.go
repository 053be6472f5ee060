// Package metrics exposes Prometheus counters for bot traffic and store health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesReceived counts inbound Telegram updates by type.
	UpdatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_updates_received_total",
		Help: "Inbound Telegram updates by update type.",
	}, []string{"type"})

	// EventsRecorded counts events appended to the store by kind.
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_events_recorded_total",
		Help: "Events appended to the events collection by kind.",
	}, []string{"kind"})

	// TouchesRecorded counts user upserts that reached the store.
	TouchesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_user_touches_recorded_total",
		Help: "User upserts written to the users collection.",
	})

	// StoreFailures counts store operations that failed or were skipped
	// while the store was unavailable.
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_store_failures_total",
		Help: "Store operations that failed or degraded to no-ops.",
	}, []string{"op"})

	// StoreRecoveries counts DOWN to UP transitions.
	StoreRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_store_recoveries_total",
		Help: "Times the store transitioned back to available.",
	})

	// ReportsDelivered counts daily reports successfully sent.
	ReportsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_reports_delivered_total",
		Help: "Daily statistics reports delivered to the configured chat.",
	})
)
