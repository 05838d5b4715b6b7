package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Currently open WebSocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_users_online",
			Help: "Users with at least one open connection",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_received_total",
			Help: "Inbound client events by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_dropped_total",
			Help: "Inbound events dropped without effect",
		},
		[]string{"reason"}, // "validation", "not_found", "forbidden", "storage", "unknown_type"
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Room broadcasts by event type",
		},
		[]string{"type"},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_delivery_failures_total",
			Help: "Per-connection delivery failures during fan-out",
		},
	)

	// Business metrics
	MessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_stored_total",
			Help: "Messages appended to the ledger",
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_transitions_total",
			Help: "Presence state transitions",
		},
		[]string{"state"}, // "online" or "offline"
	)

	// Broker metrics
	BrokerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broker_events_total",
			Help: "Cross-service events consumed",
		},
		[]string{"subject", "result"},
	)
)
