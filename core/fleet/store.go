// Package fleet holds the authoritative state of each known drone.
//
// Every mutation is a single atomic operation. MarkBusy and Release are
// compare-and-set primitives: exactly one concurrent caller can reserve an
// idle drone, and only the holder of a reservation can release it.
package fleet

import (
	"context"
	"errors"

	"github.com/kilianp07/dronedispatch/core/model"
)

var (
	// ErrUnknownDrone is returned for ids that were never registered.
	ErrUnknownDrone = errors.New("unknown drone")
	// ErrDroneNotIdle is returned by MarkBusy when the drone is not idle.
	ErrDroneNotIdle = errors.New("drone not idle")
	// ErrNotReserved is returned by Release when the drone does not hold the
	// given request.
	ErrNotReserved = errors.New("drone does not hold reservation")
)

// Store is implemented by the in-memory and SQLite fleet stores.
type Store interface {
	// Register adds a drone to the fleet as idle. Registering an existing id
	// is a no-op.
	Register(ctx context.Context, droneID string) error
	// UpsertTelemetry applies a report. Absent position or battery keep the
	// previous values. An idle report from a drone holding a reservation
	// leaves it on_route until the reservation is released.
	UpsertTelemetry(ctx context.Context, droneID string, rep model.Report) (model.Drone, error)
	// ListIdle returns idle drones ordered by id.
	ListIdle(ctx context.Context) ([]model.IdleDrone, error)
	// MarkBusy reserves an idle drone for requestID.
	MarkBusy(ctx context.Context, droneID, requestID string) error
	// Release clears the reservation for requestID. Offline drones stay
	// offline, others become idle.
	Release(ctx context.Context, droneID, requestID string) error
	Get(ctx context.Context, droneID string) (model.Drone, error)
	List(ctx context.Context) ([]model.Drone, error)
}

// ApplyReport computes the state of d after rep. It is shared by the store
// implementations so they agree on the reservation hold rule.
func ApplyReport(d model.Drone, rep model.Report) model.Drone {
	if rep.Position != nil {
		p := *rep.Position
		d.Position = &p
	}
	if rep.Battery != nil {
		b := *rep.Battery
		d.Battery = &b
	}
	d.Status = rep.Status
	if rep.Status == model.DroneIdle && d.CurrentRequest != "" {
		d.Status = model.DroneOnRoute
	}
	return d
}
