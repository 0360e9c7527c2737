// Package requests holds delivery requests and enforces their lifecycle.
package requests

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

var (
	ErrUnknownRequest    = errors.New("unknown request")
	ErrRequestNotPending = errors.New("request not pending")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicate is returned by Create when an active request already
	// covers the same origin and destination.
	ErrDuplicate = errors.New("duplicate active request")
)

// Store is implemented by the in-memory and SQLite request stores.
type Store interface {
	// Create stores r as pending. An id is generated when r.ID is empty.
	Create(ctx context.Context, r model.Request) (model.Request, error)
	Get(ctx context.Context, id string) (model.Request, error)
	// ListPending returns pending requests oldest first.
	ListPending(ctx context.Context) ([]model.Request, error)
	// ListByStatus returns requests in status s oldest first.
	ListByStatus(ctx context.Context, s model.RequestStatus) ([]model.Request, error)
	// Assign moves a pending request to assigned and records droneID.
	Assign(ctx context.Context, requestID, droneID string) error
	// UpdatePosition records the live position of an on_route request and
	// is ignored in any other status.
	UpdatePosition(ctx context.Context, requestID string, p geo.Point) error
	// MarkStatus applies a transition allowed by model.CanTransition.
	// Returning to pending clears the assigned drone.
	MarkStatus(ctx context.Context, requestID string, s model.RequestStatus) error
	// MarkCancelSent records the first cancel command for a cancelling
	// request. It returns false if one was already recorded.
	MarkCancelSent(ctx context.Context, requestID string, at time.Time) (bool, error)
}

// Validate checks the fields a new request must carry.
func Validate(r model.Request) error {
	if !(r.Weight > 0) || math.IsInf(r.Weight, 1) {
		return errors.New("weight must be a positive number")
	}
	if !r.Origin.Valid() || !r.Destination.Valid() {
		return errors.New("origin and destination must be valid coordinates")
	}
	return nil
}
