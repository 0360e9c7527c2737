package fleet_test

import (
	"testing"

	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/fleet/fleettest"
)

func TestMemoryStore(t *testing.T) {
	fleettest.Run(t, func(*testing.T) fleet.Store { return fleet.NewMemoryStore() })
}
