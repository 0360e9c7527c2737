package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/core/dispatch"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	coremqtt "github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/core/requests"
	"github.com/kilianp07/dronedispatch/infra/logger"
	"github.com/kilianp07/dronedispatch/infra/mqtt"
)

func newTestDrone(start geo.Point) *Drone {
	return NewDrone("D1", start, 10, &Battery{Level: 50, DrainPerKm: 2, ChargePerMinute: 1}, nil)
}

func deliver(req, dest string) model.Command {
	return model.Command{RequestID: req, DestLatLong: dest, Weight: 1}
}

func TestApplyDelivery(t *testing.T) {
	d := newTestDrone(geo.Point{})
	require.True(t, d.Apply(deliver("R1", "0,0.001")))
	rep := d.Report()
	assert.Equal(t, model.DroneOnRoute, rep.Status)
	assert.Equal(t, "R1", rep.RequestID)

	assert.False(t, d.Apply(deliver("R2", "1,1")), "busy drone takes a second command")
	assert.False(t, newTestDrone(geo.Point{}).Apply(deliver("R3", "nowhere")))
	assert.False(t, newTestDrone(geo.Point{}).Apply(deliver("", "1,1")))
}

func TestApplyCancel(t *testing.T) {
	d := newTestDrone(geo.Point{})
	require.True(t, d.Apply(deliver("R1", "0,1")))
	assert.False(t, d.Apply(model.CancelCommand("other")))
	require.True(t, d.Apply(model.CancelCommand("R1")))
	rep := d.Report()
	assert.Equal(t, model.DroneIdle, rep.Status)
	assert.Empty(t, rep.RequestID)
	assert.False(t, d.Apply(model.CancelCommand("R1")))
}

func TestStepFliesAndArrives(t *testing.T) {
	start := geo.Point{}
	dest := geo.Point{Lat: 0, Long: 0.001} // ~111 m
	d := newTestDrone(start)
	require.True(t, d.Apply(deliver("R1", dest.String())))

	rep := d.Step(5 * time.Second)
	require.NotNil(t, rep.Position)
	assert.Equal(t, model.DroneOnRoute, rep.Status)
	assert.InDelta(t, 50, geo.Distance(start, *rep.Position), 1)
	assert.Less(t, *rep.Battery, 50.0)

	rep = d.Step(time.Minute)
	assert.Equal(t, model.DroneIdle, rep.Status)
	assert.Empty(t, rep.RequestID)
	assert.Equal(t, dest, *rep.Position)
	assert.InDelta(t, 50-geo.Distance(start, dest)/1000*2, *rep.Battery, 0.01)
}

func TestStepChargesWhileIdle(t *testing.T) {
	d := newTestDrone(geo.Point{})
	rep := d.Step(10 * time.Minute)
	assert.InDelta(t, 60, *rep.Battery, 0.001)
	rep = d.Step(time.Hour)
	assert.Equal(t, 100.0, *rep.Battery)
}

func TestStepDisconnects(t *testing.T) {
	d := newTestDrone(geo.Point{})
	d.DisconnectRate = 1
	d.OfflineTicks = 2
	rep := d.Step(time.Second)
	assert.Equal(t, model.DroneOffline, rep.Status)
	assert.Nil(t, rep.Position)
	assert.False(t, d.Apply(deliver("R1", "1,1")))

	d.DisconnectRate = 0
	assert.Equal(t, model.DroneOffline, d.Step(time.Second).Status)
	assert.Equal(t, model.DroneIdle, d.Step(time.Second).Status)
}

func TestBatteryClamp(t *testing.T) {
	b := &Battery{Level: 1, DrainPerKm: 10, ChargePerMinute: 1}
	assert.Equal(t, 0.0, b.Fly(5000))
	assert.Equal(t, 0.0, b.Charge(-time.Minute))
}

func TestRandomAccept(t *testing.T) {
	ctx := context.Background()
	assert.False(t, NewRandomAccept(0, 1, 1).Accept(ctx))
	assert.True(t, NewRandomAccept(0, 0, 1).Accept(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, AutoAccept{Delay: time.Hour}.Accept(cancelled))
}

func latest(client *mqtt.MockClient, id string) (model.Report, bool) {
	msgs := client.PublishedTo(coremqtt.StatusTopic(id))
	if len(msgs) == 0 {
		return model.Report{}, false
	}
	rep, err := model.DecodeReport(msgs[len(msgs)-1])
	return rep, err == nil
}

func lastReport(t *testing.T, client *mqtt.MockClient, id string) model.Report {
	t.Helper()
	rep, ok := latest(client, id)
	require.True(t, ok, "no status from %s", id)
	return rep
}

func TestRunFollowsCommands(t *testing.T) {
	client := mqtt.NewMockClient()
	d := newTestDrone(geo.Point{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, client, 10*time.Millisecond, logger.NopLogger{}) }()

	require.Eventually(t, func() bool { return client.Subscribed(coremqtt.CommandTopic("D1")) }, time.Second, 5*time.Millisecond)
	payload, err := json.Marshal(deliver("R1", "0,1"))
	require.NoError(t, err)
	client.Deliver(coremqtt.CommandTopic("D1"), payload)
	require.Eventually(t, func() bool {
		rep, ok := latest(client, "D1")
		return ok && rep.RequestID == "R1"
	}, time.Second, 5*time.Millisecond)

	payload, err = json.Marshal(model.CancelCommand("R1"))
	require.NoError(t, err)
	client.Deliver(coremqtt.CommandTopic("D1"), payload)
	require.Eventually(t, func() bool {
		rep, ok := latest(client, "D1")
		return ok && rep.Status == model.DroneIdle
	}, time.Second, 5*time.Millisecond)

	client.Deliver(coremqtt.CommandTopic("D1"), []byte("{"))

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, model.DroneOffline, lastReport(t, client, "D1").Status)
}

func TestRunSubscribeFailure(t *testing.T) {
	client := mqtt.NewMockClient()
	client.FailSubscribe = true
	err := newTestDrone(geo.Point{}).Run(context.Background(), client, time.Second, nil)
	assert.ErrorIs(t, err, coremqtt.ErrTransport)
}

func TestRunFleetConnectFailures(t *testing.T) {
	cfg := Config{Count: 2, Seed: 1}
	cfg.SetDefaults()
	err := RunFleet(context.Background(), GenerateFleet(cfg), cfg, func(string) (coremqtt.Client, error) {
		return nil, errors.New("refused")
	}, logger.NopLogger{})
	assert.Error(t, err)
}

func TestRunFleetStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	clients := map[string]*mqtt.MockClient{}
	connect := func(id string) (coremqtt.Client, error) {
		c := mqtt.NewMockClient()
		mu.Lock()
		clients[id] = c
		mu.Unlock()
		return c, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, Run(ctx, Config{Count: 3, Interval: 10 * time.Millisecond, Seed: 1}, connect, nil))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, clients, 3)
	for id, c := range clients {
		assert.Equal(t, model.DroneOffline, lastReport(t, c, id).Status)
	}
}

// loopback routes every publication to the matching subscribers so an
// engine and a drone can share one in-memory broker.
type loopback struct {
	*mqtt.MockClient
}

func (l loopback) Publish(topic string, payload []byte) error {
	if err := l.MockClient.Publish(topic, payload); err != nil {
		return err
	}
	l.Deliver(topic, payload)
	return nil
}

func TestDroneCompletesDispatchedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := loopback{mqtt.NewMockClient()}

	fleetStore := fleet.NewMemoryStore()
	require.NoError(t, fleetStore.Register(ctx, "D1"))
	reqStore := requests.NewMemoryStore()
	req, err := reqStore.Create(ctx, model.Request{
		Origin:      geo.Point{Lat: 0, Long: 0.0005},
		Destination: geo.Point{Lat: 0, Long: 0.002},
		Weight:      1,
	})
	require.NoError(t, err)

	d := NewDrone("D1", geo.Point{}, 1000, &Battery{Level: 90, DrainPerKm: 1}, AutoAccept{})
	droneDone := make(chan error, 1)
	go func() { droneDone <- d.Run(ctx, broker, 20*time.Millisecond, nil) }()
	require.Eventually(t, func() bool { return broker.Subscribed(coremqtt.CommandTopic("D1")) }, time.Second, 5*time.Millisecond)

	eng, err := dispatch.NewEngine(fleetStore, reqStore, nil, broker, dispatch.Config{}, logger.NopLogger{})
	require.NoError(t, err)
	engDone := make(chan error, 1)
	go func() { engDone <- eng.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := reqStore.Get(ctx, req.ID)
		return err == nil && got.Status == model.RequestDone
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		dr, err := fleetStore.Get(ctx, "D1")
		return err == nil && dr.Status == model.DroneIdle && dr.CurrentRequest == ""
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-droneDone)
	require.NoError(t, <-engDone)
}
