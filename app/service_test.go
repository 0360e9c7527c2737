package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/config"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	coremqtt "github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/infra/mqtt"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		MQTT:    mqtt.Config{Broker: "tcp://unused:1883"},
		Store:   config.StoreConfig{Backend: config.StoreMemory},
		API:     config.APIConfig{Addr: "127.0.0.1:0"},
		Logging: config.LoggingConfig{Level: "error"},
	}
	cfg.Metrics.DisablePrometheus = true
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func useMockClient(t *testing.T) *mqtt.MockClient {
	t.Helper()
	mock := mqtt.NewMockClient()
	prev := newClient
	newClient = func(mqtt.Config) (mqtt.Client, error) { return mock, nil }
	t.Cleanup(func() { newClient = prev })
	return mock
}

func TestServiceDispatchesOverTransport(t *testing.T) {
	mock := useMockClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	require.NoError(t, svc.Stores.Fleet.Register(ctx, "D1"))
	_, err = svc.Stores.Fleet.UpsertTelemetry(ctx, "D1", model.Report{Status: model.DroneOffline})
	require.NoError(t, err)
	req, err := svc.Stores.Requests.Create(ctx, model.Request{
		Origin:      geo.Point{Lat: 1, Long: 1},
		Destination: geo.Point{Lat: 2, Long: 2},
		Weight:      1,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, func() bool { return mock.Subscribed(coremqtt.StatusWildcard) }, time.Second, 5*time.Millisecond)

	mock.Deliver(coremqtt.StatusTopic("D1"), []byte(`{"curr_latlong":"1,1","curr_battery":"90","status":"idle"}`))
	require.Eventually(t, func() bool {
		return len(mock.PublishedTo(coremqtt.CommandTopic("D1"))) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var cmd model.Command
	require.NoError(t, json.Unmarshal(mock.PublishedTo(coremqtt.CommandTopic("D1"))[0], &cmd))
	assert.Equal(t, req.ID, cmd.RequestID)
	assert.Equal(t, "1,1", cmd.DestLatLong)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestStoreInitFailure(t *testing.T) {
	useMockClient(t)
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: config.StoreSQLite, Path: t.TempDir()}
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrStoreInit)
}

func TestTransportFailure(t *testing.T) {
	prev := newClient
	newClient = func(mqtt.Config) (mqtt.Client, error) {
		return nil, errors.New("connection refused")
	}
	t.Cleanup(func() { newClient = prev })

	_, err := New(context.Background(), testConfig(t))
	assert.ErrorContains(t, err, "mqtt client")
}

func TestUnknownSelector(t *testing.T) {
	useMockClient(t)
	cfg := testConfig(t)
	cfg.Dispatch.Selector = "cheapest"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "cheapest")
}

func TestRunStopsOnComponentFailure(t *testing.T) {
	useMockClient(t)
	cfg := testConfig(t)
	cfg.API.Addr = "256.0.0.1:bad"
	svc, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer svc.Close()

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "api server")
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}
}
