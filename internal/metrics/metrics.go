package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtimechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtimechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtimechat_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsDestroyed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtimechat_rooms_destroyed_total",
			Help: "Total rooms destroyed on request",
		},
	)

	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtimechat_admissions_total",
			Help: "Admission attempts by outcome",
		},
		[]string{"outcome"}, // "admitted", "full" or "not_found"
	)

	AdmissionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtimechat_admission_conflicts_total",
			Help: "Optimistic admission transactions retried after a concurrent write",
		},
	)

	// Relay metrics
	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtimechat_messages_relayed_total",
			Help: "Total messages relayed",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtimechat_messages_deleted_total",
			Help: "Total messages deleted",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtimechat_events_published_total",
			Help: "Realtime events published by kind",
		},
		[]string{"event"},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtimechat_realtime_subscribers",
			Help: "Currently connected realtime subscribers",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtimechat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	RateLimitFailOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtimechat_rate_limit_fail_open_total",
			Help: "Requests allowed because the limiter backend failed",
		},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtimechat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtimechat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
		[]string{"op"},
	)
)
