package simulator

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/infra/logger"
)

// Drone reports telemetry on status/{id} and follows commands received on
// command/{id}.
type Drone struct {
	ID             string
	SpeedMPS       float64
	Battery        *Battery
	Strategy       AcceptStrategy
	DisconnectRate float64
	OfflineTicks   int

	mu        sync.Mutex
	position  geo.Point
	status    model.DroneStatus
	requestID string
	target    *geo.Point
	offline   int
	rng       *rand.Rand
	client    mqtt.Client
	logger    logger.Logger
}

// NewDrone creates an idle drone at start.
func NewDrone(id string, start geo.Point, speed float64, b *Battery, strat AcceptStrategy) *Drone {
	if strat == nil {
		strat = AutoAccept{}
	}
	return &Drone{
		ID:       id,
		SpeedMPS: speed,
		Battery:  b,
		Strategy: strat,
		position: start,
		status:   model.DroneIdle,
		rng:      rand.New(rand.NewSource(1)),
		logger:   logger.NopLogger{},
	}
}

// Report returns the current telemetry.
func (d *Drone) Report() model.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reportLocked()
}

func (d *Drone) reportLocked() model.Report {
	if d.status == model.DroneOffline {
		return model.Report{Status: model.DroneOffline}
	}
	p := d.position
	rep := model.Report{Position: &p, Status: d.status, RequestID: d.requestID}
	if d.Battery != nil {
		lvl := d.Battery.Value()
		rep.Battery = &lvl
	}
	return rep
}

// Apply handles a decoded command. Delivery commands are only taken while
// idle. A cancel for the current request sends the drone back to idle where
// it stands. It reports whether the state changed.
func (d *Drone) Apply(cmd model.Command) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == model.DroneOffline {
		return false
	}
	if cmd.Action == model.ActionCancel {
		if d.requestID == "" || d.requestID != cmd.RequestID {
			return false
		}
		d.status = model.DroneIdle
		d.requestID = ""
		d.target = nil
		return true
	}
	if d.status != model.DroneIdle || cmd.RequestID == "" {
		return false
	}
	dest, err := geo.ParseLatLong(cmd.DestLatLong)
	if err != nil {
		return false
	}
	d.status = model.DroneOnRoute
	d.requestID = cmd.RequestID
	d.target = &dest
	return true
}

// Step advances the simulation by dt and returns the telemetry to publish.
func (d *Drone) Step(dt time.Duration) model.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline > 0 {
		d.offline--
		if d.offline == 0 {
			d.status = model.DroneIdle
			if d.target != nil {
				d.status = model.DroneOnRoute
			}
		}
		return d.reportLocked()
	}
	if d.DisconnectRate > 0 && d.rng.Float64() < d.DisconnectRate {
		d.offline = d.OfflineTicks
		if d.offline <= 0 {
			d.offline = 1
		}
		d.status = model.DroneOffline
		return d.reportLocked()
	}
	if d.target == nil {
		if d.Battery != nil {
			d.Battery.Charge(dt)
		}
		return d.reportLocked()
	}
	remaining := geo.Distance(d.position, *d.target)
	step := d.SpeedMPS * dt.Seconds()
	if step >= remaining {
		d.position = *d.target
		d.status = model.DroneIdle
		d.requestID = ""
		d.target = nil
		step = remaining
	} else {
		d.position = towards(d.position, *d.target, step/remaining)
	}
	if d.Battery != nil {
		d.Battery.Fly(step)
	}
	return d.reportLocked()
}

// Run subscribes to the drone's command topic and publishes telemetry every
// interval until ctx is cancelled. An offline report is sent on exit.
func (d *Drone) Run(ctx context.Context, client mqtt.Client, interval time.Duration, log logger.Logger) error {
	d.client = client
	if log != nil {
		d.logger = log
	}
	if err := client.Subscribe(mqtt.CommandTopic(d.ID), d.onCommand(ctx)); err != nil {
		return err
	}
	d.publish(d.Report())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			d.publish(model.Report{Status: model.DroneOffline})
			return nil
		case now := <-ticker.C:
			d.publish(d.Step(now.Sub(last)))
			last = now
		}
	}
}

func (d *Drone) onCommand(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) {
		var cmd model.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			d.logger.Warnf("%s: decode command: %v", d.ID, err)
			return
		}
		if cmd.Action == model.ActionCancel {
			if d.Apply(cmd) {
				d.logger.Infof("%s: cancelled %s", d.ID, cmd.RequestID)
				d.publish(d.Report())
			}
			return
		}
		go func() {
			if !d.Strategy.Accept(ctx) {
				d.logger.Infof("%s: ignoring command %s", d.ID, cmd.RequestID)
				return
			}
			if d.Apply(cmd) {
				d.logger.Infof("%s: heading to %s for %s", d.ID, cmd.DestLatLong, cmd.RequestID)
				d.publish(d.Report())
			}
		}()
	}
}

func (d *Drone) publish(rep model.Report) {
	payload, err := model.EncodeReport(rep)
	if err != nil {
		d.logger.Errorf("%s: encode report: %v", d.ID, err)
		return
	}
	if err := d.client.Publish(mqtt.StatusTopic(d.ID), payload); err != nil {
		d.logger.Warnf("%s: publish status: %v", d.ID, err)
	}
}

// towards moves a fraction f of the way from a to b.
func towards(a, b geo.Point, f float64) geo.Point {
	return geo.Point{
		Lat:  a.Lat + (b.Lat-a.Lat)*f,
		Long: a.Long + (b.Long-a.Long)*f,
	}
}

// offset shifts p by the given metres north and east.
func offset(p geo.Point, north, east float64) geo.Point {
	const metersPerDegree = 111320.0
	lat := p.Lat + north/metersPerDegree
	long := p.Long + east/(metersPerDegree*math.Cos(p.Lat*math.Pi/180))
	return geo.Point{Lat: lat, Long: long}
}
