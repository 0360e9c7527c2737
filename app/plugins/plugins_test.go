package plugins

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/config"
	"github.com/kilianp07/dronedispatch/core/dispatch"
)

func TestBuiltinStores(t *testing.T) {
	assert.Equal(t, []string{"memory", "sqlite"}, StoreNames())

	ctx := context.Background()
	mem, err := OpenStores(ctx, config.StoreConfig{Backend: config.StoreMemory})
	require.NoError(t, err)
	assert.NotNil(t, mem.Fleet)
	assert.NotNil(t, mem.Requests)
	assert.Nil(t, mem.Close)

	db, err := OpenStores(ctx, config.StoreConfig{Backend: config.StoreSQLite, Path: filepath.Join(t.TempDir(), "d.db")})
	require.NoError(t, err)
	require.NotNil(t, db.Close)
	require.NoError(t, db.Fleet.Register(ctx, "D1"))
	require.NoError(t, db.Close())
}

func TestUnknownNames(t *testing.T) {
	_, err := OpenStores(context.Background(), config.StoreConfig{Backend: "postgres"})
	assert.ErrorContains(t, err, "postgres")
	_, err = NewSelector("random")
	assert.Error(t, err)
}

func TestNearestSelector(t *testing.T) {
	sel, err := NewSelector("nearest")
	require.NoError(t, err)
	assert.IsType(t, dispatch.NearestSelector{}, sel)
}
