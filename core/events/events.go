// Package events defines the notifications emitted by the dispatch engine on
// the event bus. Sinks (Influx, tests) subscribe to them; the engine never
// depends on a consumer being present.
package events

import (
	"time"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

// Kind identifies what happened.
type Kind string

const (
	KindTelemetry   Kind = "telemetry"
	KindAssigned    Kind = "assigned"
	KindAccepted    Kind = "accepted"
	KindDelivered   Kind = "delivered"
	KindExpired     Kind = "assignment_expired"
	KindCancelSent  Kind = "cancel_sent"
	KindCancelled   Kind = "cancelled"
	KindPublishFail Kind = "publish_failed"
)

// Event is a single engine notification. Fields not relevant to Kind are
// left zero.
type Event struct {
	Kind      Kind
	DroneID   string
	RequestID string
	// Path is "telemetry" or "sweep" for assignments.
	Path        string
	DroneStatus model.DroneStatus
	Position    *geo.Point
	Battery     *float64
	Err         error
	Time        time.Time
}
