package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	telemetryMessages    *prometheus.CounterVec
	assignments          *prometheus.CounterVec
	reservationConflicts *prometheus.CounterVec
	commandsPublished    *prometheus.CounterVec
	commandFailures      *prometheus.CounterVec
	cancellations        *prometheus.CounterVec
	assignmentsExpired   prometheus.Counter
	pendingRequests      prometheus.Gauge
	idleDrones           prometheus.Gauge
	sweepDuration        prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() {
	telemetryMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_telemetry_messages_total",
			Help: "Drone status messages by processing outcome",
		},
		[]string{"outcome"},
	)
	assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Requests assigned to a drone",
		},
		[]string{"path"},
	)
	reservationConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_reservation_conflicts_total",
			Help: "Reservations abandoned because another worker won the race",
		},
		[]string{"path", "resource"},
	)
	commandsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_commands_published_total",
			Help: "Commands handed to the broker",
		},
		[]string{"action"},
	)
	commandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_command_failures_total",
			Help: "Commands that could not be published",
		},
		[]string{"action"},
	)
	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_cancellations_total",
			Help: "Requests finalized as cancelled",
		},
		[]string{"reason"},
	)
	assignmentsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_assignments_expired_total",
			Help: "Assignments returned to pending after the acknowledgment timeout",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_pending_requests",
			Help: "Pending requests seen at the start of the last sweep",
		},
	)
	idleDrones = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_idle_drones",
			Help: "Idle drones seen at the start of the last sweep",
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_sweep_duration_seconds",
			Help:    "Duration of a full sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		telemetryMessages, assignments, reservationConflicts, commandsPublished,
		commandFailures, cancellations, assignmentsExpired, pendingRequests,
		idleDrones, sweepDuration,
	}
}

func init() {
	newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(collectors()...)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
