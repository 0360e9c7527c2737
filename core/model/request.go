package model

import (
	"time"

	"github.com/kilianp07/dronedispatch/core/geo"
)

// RequestStatus is the lifecycle state of a delivery request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAssigned   RequestStatus = "assigned"
	RequestOnRoute    RequestStatus = "on_route"
	RequestCancelling RequestStatus = "cancelling"
	RequestCancelled  RequestStatus = "cancelled"
	RequestDone       RequestStatus = "done"
)

// transitions lists the statuses reachable through MarkStatus. pending to
// assigned is only reachable through Assign since it needs a drone.
var transitions = map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestCancelling},
	RequestAssigned:   {RequestOnRoute, RequestPending, RequestCancelling},
	RequestOnRoute:    {RequestDone, RequestCancelling},
	RequestCancelling: {RequestCancelled},
}

// CanTransition reports whether MarkStatus may move a request from one
// status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which to is reachable through
// MarkStatus.
func Predecessors(to RequestStatus) []RequestStatus {
	var res []RequestStatus
	for _, from := range []RequestStatus{RequestPending, RequestAssigned, RequestOnRoute, RequestCancelling} {
		if CanTransition(from, to) {
			res = append(res, from)
		}
	}
	return res
}

// Terminal reports whether no further mutation is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestDone || s == RequestCancelled
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAssigned, RequestOnRoute, RequestCancelling, RequestCancelled, RequestDone:
		return true
	}
	return false
}

// Request is a single delivery from Origin to Destination.
type Request struct {
	ID              string        `json:"request_id"`
	Origin          geo.Point     `json:"origin_latlong"`
	Destination     geo.Point     `json:"dest_latlong"`
	Weight          float64       `json:"weight"`
	Status          RequestStatus `json:"curr_status"`
	AssignedDrone   string        `json:"drone_id,omitempty"`
	CurrentPosition *geo.Point    `json:"curr_latlong,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CancelSentAt    *time.Time    `json:"cancel_sent_at,omitempty"`
}
