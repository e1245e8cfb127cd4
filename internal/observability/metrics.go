package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesOffered  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rideshare", Name: "rides_offered_total", Help: "Total rides offered"})
	RidesPurged   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rideshare", Name: "rides_purged_total", Help: "Completed rides removed by retention"})
	EventFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "rideshare", Name: "event_publish_failures_total", Help: "Ride events that failed to publish"})

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "bookings_total", Help: "Booking attempts by outcome"},
		[]string{"outcome"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "ride_transitions_total", Help: "Applied ride status transitions"},
		[]string{"from", "to"},
	)
	ActiveRideLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "active_ride_lookups_total", Help: "Active ride lookups by cache result"},
		[]string{"cache"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rideshare", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rideshare",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
