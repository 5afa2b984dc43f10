package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sabayta"

var (
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Booking state transitions applied"},
		[]string{"transition"},
	)
	BookingRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_rejections_total", Help: "Booking operations rejected by a failed precondition"},
		[]string{"operation", "reason"},
	)
	AcceptLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "accept_latency_seconds", Help: "Accept conditional update latency"})
	BookingsExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_expired_total", Help: "Pending bookings cancelled by the expiry sweeper"})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Domain events delivered to a sink"},
		[]string{"sink"},
	)
	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_failed_total", Help: "Domain events a sink failed to handle"},
		[]string{"sink"},
	)
	NotificationsWritten = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_written_total", Help: "Notification records persisted"})
	NotificationsFailed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Notification records that could not be persisted"})

	RouteFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "route_fallbacks_total", Help: "Route lookups answered with a straight line"})
	WatchSessions  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "watch_sessions", Help: "Open websocket booking watch sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
