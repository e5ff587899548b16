package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kayan_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ProfilesRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kayan_profiles_registered_total",
			Help: "Total profiles registered",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"conversation_type"}, // "private" or "global"
	)

	ConversationsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_conversations_resolved_total",
			Help: "Conversation resolutions by outcome",
		},
		[]string{"outcome"}, // "created" or "existing"
	)

	ReactionsToggled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_reactions_toggled_total",
			Help: "Reaction toggles by resulting action",
		},
		[]string{"action"}, // "added" or "removed"
	)

	// Change feed metrics
	FeedEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_feed_events_published_total",
			Help: "Change events published",
		},
		[]string{"table", "op"},
	)

	FeedEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_feed_events_dropped_total",
			Help: "Change events dropped before reaching a subscriber",
		},
		[]string{"reason"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kayan_feed_active_subscriptions",
			Help: "Open change feed subscriptions",
		},
	)

	StreamConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kayan_stream_connections",
			Help: "Open websocket streams",
		},
		[]string{"kind"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kayan_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kayan_store_latency_seconds",
			Help:    "Store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"backend", "op"},
	)
)
