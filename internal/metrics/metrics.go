package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codesync_active_sessions",
		Help: "Number of collaboration sessions currently held in memory.",
	})

	ConnectionsAttached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_connections_attached_total",
		Help: "Total websocket connections attached to a session.",
	})

	ConnectionsDetached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codesync_connections_detached_total",
		Help: "Total websocket connections detached from a session.",
	})

	MessagesBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesync_messages_broadcast_total",
		Help: "Broadcast fanouts performed by session hubs, by message kind.",
	}, []string{"kind"})

	ExecuteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesync_execute_requests_total",
		Help: "Code execution requests proxied to the execute API, by outcome.",
	}, []string{"outcome"})
)
