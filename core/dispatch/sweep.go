package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/dronedispatch/core/events"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/model"
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	Pending    int
	Assigned   int
	Conflicts  int
	CancelSent int
	Cancelled  int
	Expired    int
	// FleetExhausted is set when the pass stopped because no drone was idle.
	FleetExhausted bool
}

// Sweep runs one fallback pass: cancellations first, then expired
// assignments, then every pending request oldest first against a fresh idle
// snapshot. The pass stops at the first request that finds no idle drone;
// the remaining requests wait for the next sweep or an idle report.
func (e *Engine) Sweep(ctx context.Context) SweepReport {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	var rep SweepReport
	e.retryReleases(ctx)
	e.sweepCancellations(ctx, &rep)
	e.expireAssignments(ctx, &rep)
	e.sweepPending(ctx, &rep)
	if rep.Assigned+rep.Cancelled+rep.Expired+rep.CancelSent > 0 {
		e.logger.Infof("sweep: %d assigned, %d conflicts, %d expired, %d cancel sent, %d cancelled, %d pending",
			rep.Assigned, rep.Conflicts, rep.Expired, rep.CancelSent, rep.Cancelled, rep.Pending)
	}
	return rep
}

func (e *Engine) sweepCancellations(ctx context.Context, rep *SweepReport) {
	list, err := e.requests.ListByStatus(ctx, model.RequestCancelling)
	if err != nil {
		e.storeError("list cancelling", err, nil)
		return
	}
	for _, req := range list {
		if ctx.Err() != nil {
			return
		}
		switch {
		case req.AssignedDrone == "":
			if err := e.finalizeCancel(ctx, req, "unassigned"); err == nil {
				rep.Cancelled++
			}
		case req.CancelSentAt == nil:
			if e.sendCancel(ctx, req) {
				rep.CancelSent++
			}
		case e.now().Sub(*req.CancelSentAt) >= e.cfg.cancelTimeout():
			if err := e.finalizeCancel(ctx, req, "timeout"); err != nil {
				continue
			}
			rep.Cancelled++
			if _, err := e.release(ctx, model.Drone{ID: req.AssignedDrone}, req.ID); err != nil {
				e.logger.Warnf("release drone %s after cancel timeout: %v", req.AssignedDrone, err)
				e.deferRelease(req.AssignedDrone, req.ID)
			}
		}
	}
}

func (e *Engine) expireAssignments(ctx context.Context, rep *SweepReport) {
	list, err := e.requests.ListByStatus(ctx, model.RequestAssigned)
	if err != nil {
		e.storeError("list assigned", err, nil)
		return
	}
	for _, req := range list {
		if ctx.Err() != nil {
			return
		}
		if e.now().Sub(req.UpdatedAt) < e.cfg.ackTimeout() {
			continue
		}
		if err := e.requests.MarkStatus(ctx, req.ID, model.RequestPending); err != nil {
			_ = e.transitionError(req.ID, model.RequestPending, err)
			continue
		}
		rep.Expired++
		assignmentsExpired.Inc()
		e.logger.Warnf("drone %s did not acknowledge request %s, returning it to the queue", req.AssignedDrone, req.ID)
		e.publishEvent(events.Event{Kind: events.KindExpired, DroneID: req.AssignedDrone, RequestID: req.ID})
		if _, err := e.release(ctx, model.Drone{ID: req.AssignedDrone}, req.ID); err != nil {
			e.logger.Warnf("release drone %s after expiry: %v", req.AssignedDrone, err)
			e.deferRelease(req.AssignedDrone, req.ID)
		}
	}
}

// deferRelease queues a reservation the sweep must clear. The request has
// already left the drone, so no report would free it.
func (e *Engine) deferRelease(droneID, requestID string) {
	e.retryMu.Lock()
	e.releases[droneID] = requestID
	e.retryMu.Unlock()
}

// retryReleases clears queued reservations. Release only matches the exact
// drone and request pair, so a drone that moved on is left alone.
func (e *Engine) retryReleases(ctx context.Context) {
	e.retryMu.Lock()
	todo := make(map[string]string, len(e.releases))
	for d, r := range e.releases {
		todo[d] = r
	}
	e.retryMu.Unlock()

	for droneID, requestID := range todo {
		err := e.fleet.Release(ctx, droneID, requestID)
		switch {
		case err == nil:
			e.logger.Infof("released drone %s from request %s", droneID, requestID)
		case errors.Is(err, fleet.ErrNotReserved), errors.Is(err, fleet.ErrUnknownDrone):
		default:
			e.storeError("retry release", err, map[string]string{"drone_id": droneID, "request_id": requestID})
			continue
		}
		e.retryMu.Lock()
		if e.releases[droneID] == requestID {
			delete(e.releases, droneID)
		}
		e.retryMu.Unlock()
	}
}

func (e *Engine) sweepPending(ctx context.Context, rep *SweepReport) {
	pending, err := e.requests.ListPending(ctx)
	if err != nil {
		e.storeError("list pending", err, nil)
		return
	}
	rep.Pending = len(pending)
	pendingRequests.Set(float64(len(pending)))
	for i, req := range pending {
		if ctx.Err() != nil {
			return
		}
		idle, err := e.fleet.ListIdle(ctx)
		if err != nil {
			e.storeError("list idle", err, nil)
			return
		}
		if i == 0 {
			idleDrones.Set(float64(len(idle)))
		}
		droneID, err := e.selector.Select(idle, req.Origin)
		if errors.Is(err, ErrNoCandidates) {
			rep.FleetExhausted = true
			e.logger.Debugf("no idle drone, %d pending requests wait for the next sweep", len(pending)-i)
			return
		}
		if err != nil {
			e.logger.Errorf("select drone for request %s: %v", req.ID, err)
			continue
		}
		switch err := e.reserve(ctx, droneID, req, pathSweep); {
		case err == nil:
			rep.Assigned++
		case errors.Is(err, errReservationLost):
			rep.Conflicts++
		case errors.Is(err, fleet.ErrUnknownDrone):
			e.logger.Warnf("drone %s vanished during sweep", droneID)
		}
	}
}
