package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/dronedispatch/core/events"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/requests"
)

// errReservationLost means another worker reserved the drone or assigned the
// request first. It is never surfaced to callers of the engine.
var errReservationLost = errors.New("reservation lost")

// reserve pairs droneID with req: the drone is marked busy first, then the
// request is assigned. If the request was taken meanwhile the drone is
// released again. On success the delivery command is published.
func (e *Engine) reserve(ctx context.Context, droneID string, req model.Request, path string) error {
	if err := e.fleet.MarkBusy(ctx, droneID, req.ID); err != nil {
		if errors.Is(err, fleet.ErrDroneNotIdle) {
			reservationConflicts.WithLabelValues(path, "drone").Inc()
			e.logger.Debugf("drone %s no longer idle for request %s", droneID, req.ID)
			return errReservationLost
		}
		e.storeError("mark busy", err, map[string]string{"drone_id": droneID, "request_id": req.ID})
		return fmt.Errorf("mark drone %s busy: %w", droneID, err)
	}
	if err := e.requests.Assign(ctx, req.ID, droneID); err != nil {
		if rerr := e.fleet.Release(ctx, droneID, req.ID); rerr != nil && !errors.Is(rerr, fleet.ErrNotReserved) {
			e.storeError("rollback reservation", rerr, map[string]string{"drone_id": droneID, "request_id": req.ID})
		}
		if errors.Is(err, requests.ErrRequestNotPending) {
			reservationConflicts.WithLabelValues(path, "request").Inc()
			e.logger.Debugf("request %s already taken, drone %s released", req.ID, droneID)
			return errReservationLost
		}
		e.storeError("assign request", err, map[string]string{"drone_id": droneID, "request_id": req.ID})
		return fmt.Errorf("assign request %s: %w", req.ID, err)
	}
	assignments.WithLabelValues(path).Inc()
	e.logger.Infof("request %s assigned to drone %s via %s", req.ID, droneID, path)
	e.publishEvent(events.Event{Kind: events.KindAssigned, DroneID: droneID, RequestID: req.ID, Path: path})
	_ = e.publishCommand(droneID, model.DeliveryCommand(req))
	return nil
}

// release clears d's reservation of requestID and returns the drone state
// afterwards. Losing the race to another release is not an error.
func (e *Engine) release(ctx context.Context, d model.Drone, requestID string) (model.Drone, error) {
	err := e.fleet.Release(ctx, d.ID, requestID)
	if err != nil && !errors.Is(err, fleet.ErrNotReserved) {
		e.storeError("release drone", err, map[string]string{"drone_id": d.ID, "request_id": requestID})
		return d, fmt.Errorf("release drone %s: %w", d.ID, err)
	}
	cur, err := e.fleet.Get(ctx, d.ID)
	if err != nil {
		e.storeError("get drone", err, map[string]string{"drone_id": d.ID})
		return d, fmt.Errorf("get drone %s: %w", d.ID, err)
	}
	return cur, nil
}

// sendCancel publishes the cancel command for req once.
func (e *Engine) sendCancel(ctx context.Context, req model.Request) bool {
	first, err := e.requests.MarkCancelSent(ctx, req.ID, e.now())
	if err != nil {
		if !errors.Is(err, requests.ErrInvalidTransition) {
			e.storeError("mark cancel sent", err, map[string]string{"request_id": req.ID})
		}
		return false
	}
	if !first {
		return false
	}
	e.logger.Infof("cancelling request %s on drone %s", req.ID, req.AssignedDrone)
	e.publishEvent(events.Event{Kind: events.KindCancelSent, DroneID: req.AssignedDrone, RequestID: req.ID})
	_ = e.publishCommand(req.AssignedDrone, model.CancelCommand(req.ID))
	return true
}

// finalizeCancel moves req to cancelled. The caller releases the drone.
func (e *Engine) finalizeCancel(ctx context.Context, req model.Request, reason string) error {
	if err := e.requests.MarkStatus(ctx, req.ID, model.RequestCancelled); err != nil {
		return e.transitionError(req.ID, model.RequestCancelled, err)
	}
	cancellations.WithLabelValues(reason).Inc()
	e.logger.Infof("request %s cancelled (%s)", req.ID, reason)
	e.publishEvent(events.Event{Kind: events.KindCancelled, DroneID: req.AssignedDrone, RequestID: req.ID})
	return nil
}
