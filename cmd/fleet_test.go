package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

func writeTemp(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadFleetFile(t *testing.T) {
	ids, err := loadFleetFile(writeTemp(t, "fleet.yaml", "drones:\n  - id: D1\n  - id: \" D2 \"\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2"}, ids)

	_, err = loadFleetFile(writeTemp(t, "fleet.yaml", "drones:\n  - id: D1\n  - id: D1\n"))
	assert.ErrorContains(t, err, "twice")
	_, err = loadFleetFile(writeTemp(t, "fleet.yaml", "drones:\n  - {}\n"))
	assert.ErrorContains(t, err, "no id")
	_, err = loadFleetFile(writeTemp(t, "fleet.yaml", "drones: [\n"))
	assert.Error(t, err)
}

func TestSeedAndPrintFleet(t *testing.T) {
	ctx := context.Background()
	store := fleet.NewMemoryStore()
	require.NoError(t, seedFleet(ctx, store, []string{"D2", "D1"}))
	require.NoError(t, seedFleet(ctx, store, []string{"D1"}))

	p := geo.Point{Lat: 1, Long: 2}
	b := 55.0
	_, err := store.UpsertTelemetry(ctx, "D1", model.Report{Position: &p, Battery: &b, Status: model.DroneIdle})
	require.NoError(t, err)

	drones, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, drones, 2)

	var buf bytes.Buffer
	require.NoError(t, printFleet(&buf, drones))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, buf.String(), "1,2")
	assert.Contains(t, buf.String(), "55.0")
}

func TestFleetCommandsUseConfiguredStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fleet.db")
	cfgFile := writeTemp(t, "config.yaml", "mqtt:\n  broker: tcp://b:1883\nstore:\n  backend: sqlite\n  path: "+dbPath+"\n")
	fleetYAML := writeTemp(t, "fleet.yaml", "drones:\n  - id: D1\n  - id: D2\n")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"fleet", "seed", "-c", cfgFile, "-f", fleetYAML})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "registered 2 drones")

	out.Reset()
	rootCmd.SetArgs([]string{"fleet", "ls", "-c", cfgFile})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "D1")
	assert.Contains(t, out.String(), "D2")
}
