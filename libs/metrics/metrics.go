package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtara_bookings_total",
			Help: "Booking attempts by outcome (created, conflict, invalid, error).",
		},
		[]string{"result"},
	)

	ReschedulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtara_reschedules_total",
			Help: "Reschedule attempts by outcome.",
		},
		[]string{"result"},
	)

	CancellationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healtara_cancellations_total",
			Help: "Appointments moved to CANCELLED.",
		},
	)

	BroadcastEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healtara_broadcast_events_total",
			Help: "Domain events published to the realtime bus, by type.",
		},
		[]string{"type"},
	)

	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healtara_realtime_subscribers",
			Help: "Currently connected realtime viewers.",
		},
	)

	AvailabilityCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healtara_availability_cache_hits_total",
			Help: "Availability snapshots served from the Redis cache.",
		},
	)

	AvailabilityCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healtara_availability_cache_misses_total",
			Help: "Availability snapshots recomputed from storage.",
		},
	)
)

// Handler serves the default registry; mount it at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
