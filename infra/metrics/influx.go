package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/dronedispatch/core/events"
	"github.com/kilianp07/dronedispatch/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(ctx context.Context, cfg InfluxConfig) EventSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return NopSink{}
	}
	return sink
}

// RecordEvent writes ev as a single point. Telemetry goes to the
// drone_telemetry measurement, everything else to dispatch_event.
func (s *InfluxSink) RecordEvent(ev events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, eventPoint(ev))
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func eventPoint(ev events.Event) *write.Point {
	if ev.Kind == events.KindTelemetry {
		p := write.NewPointWithMeasurement("drone_telemetry").
			AddTag("drone_id", ev.DroneID).
			AddTag("status", string(ev.DroneStatus))
		if ev.Position != nil {
			p = p.AddField("lat", ev.Position.Lat).AddField("long", ev.Position.Long)
		}
		if ev.Battery != nil {
			p = p.AddField("battery", round3(*ev.Battery))
		}
		if ev.RequestID != "" {
			p = p.AddField("request_id", ev.RequestID)
		} else {
			p = p.AddField("busy", false)
		}
		return p.SetTime(ev.Time)
	}
	p := write.NewPointWithMeasurement("dispatch_event").
		AddTag("kind", string(ev.Kind)).
		AddTag("component", "dispatch_engine")
	if ev.DroneID != "" {
		p = p.AddTag("drone_id", ev.DroneID)
	}
	if ev.Path != "" {
		p = p.AddTag("path", ev.Path)
	}
	p = p.AddField("request_id", ev.RequestID)
	if ev.Err != nil {
		p = p.AddField("error", ev.Err.Error())
	}
	return p.SetTime(ev.Time)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
