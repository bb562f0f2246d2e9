package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebSocket Metrics
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dronelab_ws_connections_active",
		Help: "The current number of open sockets per role.",
	}, []string{"role"})
	TotalConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_ws_connections_total",
		Help: "The total number of sockets accepted per role.",
	}, []string{"role"})
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_ws_frames_received_total",
		Help: "Inbound frames per event name.",
	}, []string{"event"})
	FramesRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dronelab_ws_frames_rate_limited_total",
		Help: "Inbound frames rejected by the per-socket rate limiter.",
	})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dronelab_ws_frames_dropped_total",
		Help: "Outbound frames dropped because a socket's send queue was full or closed.",
	})

	// Channel Metrics
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_channel_broadcasts_total",
		Help: "Broadcasts per channel kind (session, students, instructor, private).",
	}, []string{"kind"})

	// Gateway Metrics
	CapabilityDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_capability_denied_total",
		Help: "Actions rejected because the activation flag was off.",
	}, []string{"capability"})
	FailedAcks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_failed_acks_total",
		Help: "Failure acknowledgments per reason code.",
	}, []string{"reason"})

	// Store Metrics
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_store_errors_total",
		Help: "Session store operations that returned an error.",
	}, []string{"operation"})

	// Bus Metrics
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_bus_events_published_total",
		Help: "Domain events accepted by the event bus.",
	}, []string{"event"})
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronelab_bus_events_dropped_total",
		Help: "Domain events rejected because the bus queue was full or stopped.",
	}, []string{"event"})

	// Lecture Metrics
	LecturesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dronelab_lectures_active",
		Help: "Lectures currently accepting participants.",
	})
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
