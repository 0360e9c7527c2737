package dispatch

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

// ErrNoCandidates is returned by a Selector given no idle drones.
var ErrNoCandidates = errors.New("no idle drones")

// Selector picks the drone that should serve a request at target.
type Selector interface {
	Select(idle []model.IdleDrone, target geo.Point) (string, error)
}

// NearestSelector picks the idle drone closest to the target. Ties go to the
// drone listed first; drones without a known position rank last.
type NearestSelector struct{}

func (NearestSelector) Select(idle []model.IdleDrone, target geo.Point) (string, error) {
	if len(idle) == 0 {
		return "", ErrNoCandidates
	}
	dist := make([]float64, len(idle))
	for i, d := range idle {
		if d.Position == nil {
			dist[i] = math.Inf(1)
			continue
		}
		dist[i] = geo.Distance(*d.Position, target)
	}
	return idle[floats.MinIdx(dist)].ID, nil
}
