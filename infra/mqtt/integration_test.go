package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremqtt "github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/test/util"
)

func TestPahoClientAgainstMosquitto(t *testing.T) {
	util.RequireDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto unavailable: %v", err)
	}
	defer cleanup()

	engine, err := NewPahoClient(Config{Broker: broker, ClientID: "engine", QoS: map[string]byte{"status": 1, "command": 1}})
	require.NoError(t, err)
	defer engine.Close()

	drone, err := NewPahoClient(Config{
		Broker:     broker,
		ClientID:   "drone-D1",
		LWTTopic:   coremqtt.StatusTopic("D1"),
		LWTPayload: `{"status":"offline"}`,
		LWTQoS:     1,
	})
	require.NoError(t, err)
	defer drone.Close()

	var mu sync.Mutex
	var statuses, commands []string
	require.NoError(t, engine.Subscribe(coremqtt.StatusWildcard, func(topic string, payload []byte) {
		mu.Lock()
		statuses = append(statuses, topic+" "+string(payload))
		mu.Unlock()
	}))
	require.NoError(t, drone.Subscribe(coremqtt.CommandTopic("D1"), func(_ string, payload []byte) {
		mu.Lock()
		commands = append(commands, string(payload))
		mu.Unlock()
	}))

	require.NoError(t, drone.Publish(coremqtt.StatusTopic("D1"), []byte(`{"status":"idle"}`)))
	require.NoError(t, engine.Publish(coremqtt.CommandTopic("D1"), []byte(`{"request_id":"R1"}`)))

	ok := util.Eventually(5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 1 && len(commands) == 1
	})
	require.True(t, ok, "messages not routed through broker")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, `status/D1 {"status":"idle"}`, statuses[0])
	assert.Equal(t, `{"request_id":"R1"}`, commands[0])
}
