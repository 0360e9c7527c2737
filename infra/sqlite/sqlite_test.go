package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/fleet/fleettest"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/requests"
	"github.com/kilianp07/dronedispatch/core/requests/requeststest"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFleetStoreConformance(t *testing.T) {
	fleettest.Run(t, func(t *testing.T) fleet.Store { return openTemp(t).Fleet() })
}

func TestRequestStoreConformance(t *testing.T) {
	requeststest.Run(t, func(t *testing.T) requests.Store { return openTemp(t).Requests() })
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dispatch.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Fleet().Register(ctx, "D1"))
	_, err = db.Fleet().UpsertTelemetry(ctx, "D1", model.Report{Position: &geo.Point{Lat: 48.8566, Long: 2.3522}, Status: model.DroneIdle})
	require.NoError(t, err)
	r, err := db.Requests().Create(ctx, requeststest.NewRequest(3))
	require.NoError(t, err)
	require.NoError(t, db.Fleet().MarkBusy(ctx, "D1", r.ID))
	require.NoError(t, db.Requests().Assign(ctx, r.ID, "D1"))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	d, err := db.Fleet().Get(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, model.DroneOnRoute, d.Status)
	assert.Equal(t, r.ID, d.CurrentRequest)
	require.NotNil(t, d.Position)
	assert.Equal(t, geo.Point{Lat: 48.8566, Long: 2.3522}, *d.Position)

	got, err := db.Requests().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAssigned, got.Status)
	assert.Equal(t, "D1", got.AssignedDrone)
	assert.Equal(t, r.CreatedAt, got.CreatedAt)
}

func TestInMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.Fleet().Register(ctx, "D1"))
	idle, err := db.Fleet().ListIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.IdleDrone{{ID: "D1"}}, idle)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
