// Package fleettest runs the same behavioural checks against every
// fleet.Store implementation.
package fleettest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

// Run exercises newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) fleet.Store) {
	t.Run("UnknownDrone", func(t *testing.T) { testUnknownDrone(t, newStore(t)) })
	t.Run("Telemetry", func(t *testing.T) { testTelemetry(t, newStore(t)) })
	t.Run("ListIdleSorted", func(t *testing.T) { testListIdle(t, newStore(t)) })
	t.Run("MarkBusy", func(t *testing.T) { testMarkBusy(t, newStore(t)) })
	t.Run("ReservationHold", func(t *testing.T) { testReservationHold(t, newStore(t)) })
	t.Run("Release", func(t *testing.T) { testRelease(t, newStore(t)) })
	t.Run("ConcurrentMarkBusy", func(t *testing.T) { testConcurrentMarkBusy(t, newStore(t)) })
}

func pt(lat, long float64) *geo.Point { return &geo.Point{Lat: lat, Long: long} }
func bat(v float64) *float64         { return &v }

func testUnknownDrone(t *testing.T, s fleet.Store) {
	ctx := context.Background()
	_, err := s.UpsertTelemetry(ctx, "ghost", model.Report{Status: model.DroneIdle})
	assert.ErrorIs(t, err, fleet.ErrUnknownDrone)
	_, err = s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, fleet.ErrUnknownDrone)
	assert.ErrorIs(t, s.MarkBusy(ctx, "ghost", "r1"), fleet.ErrUnknownDrone)
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "telemetry must not create drones")
}

func testTelemetry(t *testing.T, s fleet.Store) {
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "d1"))
	require.NoError(t, s.Register(ctx, "d1"))

	d, err := s.UpsertTelemetry(ctx, "d1", model.Report{Position: pt(1, 2), Battery: bat(80), Status: model.DroneIdle})
	require.NoError(t, err)
	assert.Equal(t, model.DroneIdle, d.Status)
	assert.Equal(t, 80.0, *d.Battery)

	// A last-will report carries no position or battery.
	d, err = s.UpsertTelemetry(ctx, "d1", model.Report{Status: model.DroneOffline})
	require.NoError(t, err)
	assert.Equal(t, model.DroneOffline, d.Status)
	require.NotNil(t, d.Position)
	assert.Equal(t, geo.Point{Lat: 1, Long: 2}, *d.Position)
	assert.Equal(t, 80.0, *d.Battery)

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DroneOffline, got.Status)
}

func testListIdle(t *testing.T, s fleet.Store) {
	ctx := context.Background()
	for _, id := range []string{"d3", "d1", "d2"} {
		require.NoError(t, s.Register(ctx, id))
	}
	_, err := s.UpsertTelemetry(ctx, "d2", model.Report{Status: model.DroneOffline})
	require.NoError(t, err)
	idle, err := s.ListIdle(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(idle))
	for _, d := range idle {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"d1", "d3"}, ids)
}

func testMarkBusy(t *testing.T, s fleet.Store) {
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "d1"))
	require.NoError(t, s.MarkBusy(ctx, "d1", "r1"))
	assert.ErrorIs(t, s.MarkBusy(ctx, "d1", "r2"), fleet.ErrDroneNotIdle)

	d, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DroneOnRoute, d.Status)
	assert.Equal(t, "r1", d.CurrentRequest)

	idle, err := s.ListIdle(ctx)
	require.NoError(t, err)
	assert.Empty(t, idle)
}

func testReservationHold(t *testing.T, s fleet.Store) {
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "d1"))
	require.NoError(t, s.MarkBusy(ctx, "d1", "r1"))

	// Replayed idle telemetry must not free the drone or drop the request.
	for i := 0; i < 3; i++ {
		d, err := s.UpsertTelemetry(ctx, "d1", model.Report{Position: pt(5, 5), Status: model.DroneIdle})
		require.NoError(t, err)
		assert.Equal(t, model.DroneOnRoute, d.Status)
		assert.Equal(t, "r1", d.CurrentRequest)
	}
	assert.ErrorIs(t, s.MarkBusy(ctx, "d1", "r2"), fleet.ErrDroneNotIdle)

	// Offline keeps the stale reference.
	d, err := s.UpsertTelemetry(ctx, "d1", model.Report{Status: model.DroneOffline})
	require.NoError(t, err)
	assert.Equal(t, model.DroneOffline, d.Status)
	assert.Equal(t, "r1", d.CurrentRequest)
}

func testRelease(t *testing.T, s fleet.Store) {
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "d1"))
	assert.ErrorIs(t, s.Release(ctx, "d1", "r1"), fleet.ErrNotReserved)
	require.NoError(t, s.MarkBusy(ctx, "d1", "r1"))
	assert.ErrorIs(t, s.Release(ctx, "d1", "other"), fleet.ErrNotReserved)
	require.NoError(t, s.Release(ctx, "d1", "r1"))

	d, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DroneIdle, d.Status)
	assert.Empty(t, d.CurrentRequest)

	require.NoError(t, s.MarkBusy(ctx, "d1", "r2"))
	_, err = s.UpsertTelemetry(ctx, "d1", model.Report{Status: model.DroneOffline})
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "d1", "r2"))
	d, err = s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DroneOffline, d.Status)
	assert.Empty(t, d.CurrentRequest)
}

func testConcurrentMarkBusy(t *testing.T, s fleet.Store) {
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "d1"))
	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rid := fmt.Sprintf("r%d", i)
			err := s.MarkBusy(ctx, "d1", rid)
			if err == nil {
				mu.Lock()
				winners = append(winners, rid)
				mu.Unlock()
				return
			}
			if !errors.Is(err, fleet.ErrDroneNotIdle) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, winners, 1)
	d, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], d.CurrentRequest)
}
