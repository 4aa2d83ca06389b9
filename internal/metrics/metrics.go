package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexthire_chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexthire_chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexthire_chat_messages_sent_total",
			Help: "Total chat messages persisted",
		},
		[]string{"transport"}, // "rest" or "socket"
	)

	MessagesMarkedRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexthire_chat_messages_marked_read_total",
			Help: "Total messages transitioned to read",
		},
	)

	// Realtime metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexthire_chat_ws_connections",
			Help: "Currently registered websocket connections",
		},
	)

	SocketEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexthire_chat_ws_events_total",
			Help: "Inbound socket events by name and outcome",
		},
		[]string{"event", "outcome"},
	)

	DroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nexthire_chat_ws_dropped_clients_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	FanoutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexthire_chat_fanout_failures_total",
			Help: "Emits that could not be delivered or published",
		},
		[]string{"reason"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexthire_chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"scope"}, // "http" or "socket"
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexthire_chat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
