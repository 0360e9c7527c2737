package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dronedispatch/core/events"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/infra/logger"
)

func TestInfluxSinkRecordsAssignment(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()
	ev := events.Event{Kind: events.KindAssigned, DroneID: "D1", RequestID: "R1", Path: "sweep", Time: now}
	require.NoError(t, sink.RecordEvent(ev))

	p := write.NewPointWithMeasurement("dispatch_event").
		AddTag("kind", "assigned").
		AddTag("component", "dispatch_engine").
		AddTag("drone_id", "D1").
		AddTag("path", "sweep").
		AddField("request_id", "R1").
		SetTime(now)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	assert.Equal(t, expected, strings.TrimSpace(body))
}

func TestTelemetryPoint(t *testing.T) {
	b := 87.12345
	now := time.Now()
	p := eventPoint(events.Event{
		Kind: events.KindTelemetry, DroneID: "D1", DroneStatus: model.DroneIdle,
		Position: &geo.Point{Lat: 1.5, Long: 2.5}, Battery: &b, Time: now,
	})
	line := write.PointToLineProtocol(p, time.Nanosecond)
	assert.Contains(t, line, "drone_telemetry,drone_id=D1,status=idle")
	assert.Contains(t, line, "battery=87.123")
	assert.Contains(t, line, "lat=1.5")
	assert.Contains(t, line, "busy=false")
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(context.Background(), InfluxConfig{URL: srv.URL + "/api/v2/write", Org: "org", Bucket: "bucket"})
	assert.IsType(t, NopSink{}, sink)
	assert.True(t, called, "health endpoint not queried")
}

type recordingSink struct {
	got  []events.Kind
	fail bool
}

func (r *recordingSink) RecordEvent(ev events.Event) error {
	r.got = append(r.got, ev.Kind)
	if r.fail {
		return errors.New("down")
	}
	return nil
}

func TestForwardDrainsUntilClosed(t *testing.T) {
	ch := make(chan events.Event, 3)
	ch <- events.Event{Kind: events.KindAssigned}
	ch <- events.Event{Kind: events.KindDelivered}
	close(ch)
	sink := &recordingSink{fail: true}
	Forward(context.Background(), ch, sink, logger.NopLogger{})
	assert.Equal(t, []events.Kind{events.KindAssigned, events.KindDelivered}, sink.got)
}

func TestConfigValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, ":2112", c.PrometheusAddr)
	assert.NoError(t, c.Validate())

	c.Influx.URL = "http://influx:8086"
	assert.Error(t, c.Validate())
	c.Influx.Org, c.Influx.Bucket = "org", "drones"
	assert.NoError(t, c.Validate())

	off := Config{DisablePrometheus: true}
	off.SetDefaults()
	assert.Empty(t, off.PrometheusAddr)
}

func TestServePromExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatch_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeProm(ctx, ln, reg) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "dispatch_test_total 1")

	cancel()
	assert.NoError(t, <-done)
}

func TestTrackDroppedEvents(t *testing.T) {
	var n uint64 = 3
	TrackDroppedEvents(func() uint64 { return n })
	assert.Equal(t, 3.0, testutil.ToFloat64(droppedEvents))

	TrackDroppedEvents(func() uint64 { return 7 })
	assert.Equal(t, 7.0, testutil.ToFloat64(droppedEvents))
}
