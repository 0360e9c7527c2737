package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/dronedispatch/core/events"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/monitoring"
	"github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/core/requests"
)

// processMessage decodes one status message. A bad message never stops the
// worker.
func (e *Engine) processMessage(ctx context.Context, msg inbound) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("telemetry handler panic: %v", r)
			e.logger.Errorf("%v", err)
			monitoring.CaptureException(err, map[string]string{"module": "dispatch", "topic": msg.topic})
		}
	}()

	droneID, ok := mqtt.DroneIDFromStatusTopic(msg.topic)
	if !ok {
		telemetryMessages.WithLabelValues("bad_topic").Inc()
		e.logger.Warnf("ignoring message on %s", msg.topic)
		return
	}
	rep, err := model.DecodeReport(msg.payload)
	if err != nil {
		telemetryMessages.WithLabelValues("malformed").Inc()
		e.logger.Warnf("malformed status from %s: %v", droneID, err)
		return
	}
	if err := e.HandleTelemetry(ctx, droneID, rep); err != nil && !errors.Is(err, fleet.ErrUnknownDrone) {
		e.logger.Errorf("telemetry from %s: %v", droneID, err)
	}
}

// HandleTelemetry applies one report: it updates the fleet, advances the
// request the drone is serving and, if the drone ends up idle, hands it the
// oldest pending request.
func (e *Engine) HandleTelemetry(ctx context.Context, droneID string, rep model.Report) error {
	d, err := e.fleet.UpsertTelemetry(ctx, droneID, rep)
	if errors.Is(err, fleet.ErrUnknownDrone) {
		telemetryMessages.WithLabelValues("unknown_drone").Inc()
		e.logger.Warnf("status from unregistered drone %s dropped", droneID)
		return err
	}
	if err != nil {
		e.storeError("upsert telemetry", err, map[string]string{"drone_id": droneID})
		return fmt.Errorf("upsert telemetry %s: %w", droneID, err)
	}
	telemetryMessages.WithLabelValues("processed").Inc()
	e.publishEvent(events.Event{
		Kind: events.KindTelemetry, DroneID: droneID, RequestID: d.CurrentRequest,
		DroneStatus: d.Status, Position: d.Position, Battery: d.Battery,
	})

	if d.CurrentRequest != "" {
		if d, err = e.reconcile(ctx, d, rep); err != nil {
			return err
		}
	}
	if rep.Status != model.DroneIdle || d.Status != model.DroneIdle {
		return nil
	}
	return e.assignNext(ctx, droneID)
}

// reconcile advances the request held by d according to rep and returns the
// drone's state afterwards.
func (e *Engine) reconcile(ctx context.Context, d model.Drone, rep model.Report) (model.Drone, error) {
	req, err := e.requests.Get(ctx, d.CurrentRequest)
	if errors.Is(err, requests.ErrUnknownRequest) {
		if rep.Status == model.DroneIdle {
			return e.release(ctx, d, d.CurrentRequest)
		}
		return d, nil
	}
	if err != nil {
		e.storeError("get request", err, map[string]string{"request_id": d.CurrentRequest})
		return d, fmt.Errorf("get request %s: %w", d.CurrentRequest, err)
	}
	// Held by another drone: MarkBusy refuses a drone that already has a
	// reservation, so this one is stale and safe to clear.
	if req.AssignedDrone != "" && req.AssignedDrone != d.ID {
		if rep.Status == model.DroneIdle {
			return e.release(ctx, d, req.ID)
		}
		return d, nil
	}
	// Without a drone the request is pending, where a reservation may be
	// mid setup by another worker that owns the release, or was cancelled
	// before assignment.
	if req.AssignedDrone == "" {
		if req.Status.Terminal() && rep.Status == model.DroneIdle {
			return e.release(ctx, d, req.ID)
		}
		return d, nil
	}

	switch req.Status {
	case model.RequestAssigned:
		if rep.Status != model.DroneOnRoute || (rep.RequestID != "" && rep.RequestID != req.ID) {
			return d, nil
		}
		if err := e.requests.MarkStatus(ctx, req.ID, model.RequestOnRoute); err != nil {
			return d, e.transitionError(req.ID, model.RequestOnRoute, err)
		}
		e.logger.Infof("drone %s accepted request %s", d.ID, req.ID)
		e.publishEvent(events.Event{Kind: events.KindAccepted, DroneID: d.ID, RequestID: req.ID})
		e.trackPosition(ctx, req.ID, rep)
	case model.RequestOnRoute:
		switch rep.Status {
		case model.DroneOnRoute:
			e.trackPosition(ctx, req.ID, rep)
		case model.DroneIdle:
			if err := e.requests.MarkStatus(ctx, req.ID, model.RequestDone); err != nil {
				return d, e.transitionError(req.ID, model.RequestDone, err)
			}
			e.logger.Infof("drone %s completed request %s", d.ID, req.ID)
			e.publishEvent(events.Event{Kind: events.KindDelivered, DroneID: d.ID, RequestID: req.ID})
			return e.release(ctx, d, req.ID)
		}
	case model.RequestCancelling:
		if rep.Status != model.DroneIdle {
			e.sendCancel(ctx, req)
			return d, nil
		}
		if err := e.finalizeCancel(ctx, req, "acknowledged"); err != nil {
			return d, err
		}
		return e.release(ctx, d, req.ID)
	case model.RequestDone, model.RequestCancelled:
		if rep.Status == model.DroneIdle {
			return e.release(ctx, d, req.ID)
		}
	}
	return d, nil
}

func (e *Engine) trackPosition(ctx context.Context, requestID string, rep model.Report) {
	if rep.Position == nil {
		return
	}
	if err := e.requests.UpdatePosition(ctx, requestID, *rep.Position); err != nil {
		e.storeError("update position", err, map[string]string{"request_id": requestID})
	}
}

// transitionError treats a lost transition race as a no-op; the next report
// observes the winner's state.
func (e *Engine) transitionError(requestID string, to model.RequestStatus, err error) error {
	if errors.Is(err, requests.ErrInvalidTransition) {
		e.logger.Debugf("request %s changed concurrently, skipping move to %s", requestID, to)
		return nil
	}
	e.storeError("mark status", err, map[string]string{"request_id": requestID, "status": string(to)})
	return fmt.Errorf("mark request %s %s: %w", requestID, to, err)
}

// assignNext hands the oldest pending request to droneID.
func (e *Engine) assignNext(ctx context.Context, droneID string) error {
	pending, err := e.requests.ListPending(ctx)
	if err != nil {
		e.storeError("list pending", err, nil)
		return fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	err = e.reserve(ctx, droneID, pending[0], pathTelemetry)
	if errors.Is(err, errReservationLost) {
		return nil
	}
	return err
}
