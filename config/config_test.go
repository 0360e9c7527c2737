package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "director"
  username: "user"
  password: "pass"
  qos:
    command: 1
dispatch:
  ack_timeout_seconds: 30
  sweep_interval_seconds: 5
store:
  backend: memory
api:
  addr: ":9000"
metrics:
  prometheus_addr: ":9100"
  influx:
    url: "http://localhost:8086"
    org: "drones"
    bucket: "dispatch"
logging:
  level: debug
sentry:
  dsn: "https://key@sentry.example/1"
  environment: test
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "director", cfg.MQTT.ClientID)
	assert.Equal(t, "user", cfg.MQTT.Username)
	assert.Equal(t, byte(1), cfg.MQTT.QoS["command"])
	assert.Equal(t, 30, cfg.Dispatch.AckTimeoutSeconds)
	assert.Equal(t, 5, cfg.Dispatch.SweepIntervalSeconds)
	assert.Equal(t, 60, cfg.Dispatch.CancelTimeoutSeconds)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, ":9000", cfg.API.Addr)
	assert.Equal(t, ":9100", cfg.Metrics.PrometheusAddr)
	assert.True(t, cfg.Metrics.Influx.Enabled())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "test", cfg.Sentry.Environment)
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"mqtt":{"broker":"tcp://broker:1883"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.MQTT.ClientID)
	assert.Equal(t, 10, cfg.Dispatch.SweepIntervalSeconds)
	assert.Equal(t, 120, cfg.Dispatch.AckTimeoutSeconds)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "dronedispatch.db", cfg.Store.Path)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, ":2112", cfg.Metrics.PrometheusAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, "config.yaml", "mqtt:\n  broker: tcp://file:1883\n")
	t.Setenv("K_MQTT__BROKER", "tcp://env:1883")
	t.Setenv("K_STORE__BACKEND", "memory")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://env:1883", cfg.MQTT.Broker)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "config.toml", ""))
	assert.ErrorContains(t, err, "unsupported")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cases := map[string]string{
		"mqtt":     "dispatch:\n  ack_timeout_seconds: 1\n",
		"dispatch": "mqtt:\n  broker: tcp://b:1883\ndispatch:\n  telemetry_workers: -2\n",
		"store":    "mqtt:\n  broker: tcp://b:1883\nstore:\n  backend: etcd\n",
		"metrics":  "mqtt:\n  broker: tcp://b:1883\nmetrics:\n  influx:\n    url: http://i:8086\n",
		"logging":  "mqtt:\n  broker: tcp://b:1883\nlogging:\n  level: loud\n",
		"api":      "mqtt:\n  broker: tcp://b:1883\napi:\n  shutdown_timeout_seconds: -1\n",
	}
	for section, data := range cases {
		t.Run(section, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), section+":")
		})
	}
}
