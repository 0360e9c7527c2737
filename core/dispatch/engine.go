package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/dronedispatch/core/events"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/logger"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/monitoring"
	"github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/core/requests"
	"github.com/kilianp07/dronedispatch/internal/eventbus"
)

const (
	pathTelemetry = "telemetry"
	pathSweep     = "sweep"
)

// Engine coordinates the fleet and request stores.
type Engine struct {
	fleet    fleet.Store
	requests requests.Store
	selector Selector
	client   mqtt.Client
	cfg      Config
	logger   logger.Logger
	bus      *eventbus.TypedBus[events.Event]
	now      func() time.Time

	// releases left over from a failed store call, drone id -> request id.
	retryMu  sync.Mutex
	releases map[string]string
}

// NewEngine creates an Engine. A nil selector defaults to NearestSelector.
func NewEngine(f fleet.Store, r requests.Store, sel Selector, client mqtt.Client, cfg Config, log logger.Logger) (*Engine, error) {
	if f == nil || r == nil || client == nil || log == nil {
		return nil, errors.New("dispatch: fleet, requests, client and logger are required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sel == nil {
		sel = NearestSelector{}
	}
	return &Engine{
		fleet:    f,
		requests: r,
		selector: sel,
		client:   client,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
		releases: map[string]string{},
	}, nil
}

// SetEventBus configures the bus receiving engine events.
func (e *Engine) SetEventBus(bus *eventbus.TypedBus[events.Event]) {
	e.bus = bus
}

// SetClock replaces the time source used for timeouts and event stamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run subscribes to drone telemetry and runs the sweep loop until ctx is
// cancelled. It waits for in-flight telemetry before returning.
func (e *Engine) Run(ctx context.Context) error {
	q := newShardedQueue(e.cfg.TelemetryWorkers, e.cfg.TelemetryQueueSize, e.processMessage)
	q.start(ctx)
	defer q.wait()

	err := e.client.Subscribe(mqtt.StatusWildcard, func(topic string, payload []byte) {
		msg := inbound{topic: topic, payload: append([]byte(nil), payload...)}
		if !q.enqueue(ctx, topic, msg) {
			telemetryMessages.WithLabelValues("dropped").Inc()
		}
	})
	if err != nil {
		// The gateway restores subscriptions on reconnect; the sweep keeps
		// working meanwhile.
		e.logger.Errorf("subscribe %s: %v", mqtt.StatusWildcard, err)
	}
	e.logger.Infof("dispatch engine started: sweep every %s, %d telemetry workers",
		e.cfg.sweepInterval(), e.cfg.TelemetryWorkers)

	e.Sweep(ctx)
	ticker := time.NewTicker(e.cfg.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Infof("dispatch engine stopping")
			return nil
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

func (e *Engine) publishEvent(ev events.Event) {
	if e.bus == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.bus.Publish(ev)
}

// publishCommand sends cmd to droneID. Failures are logged and counted; the
// caller's state change stands.
func (e *Engine) publishCommand(droneID string, cmd model.Command) error {
	action := "deliver"
	if cmd.Action == model.ActionCancel {
		action = "cancel"
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := e.client.Publish(mqtt.CommandTopic(droneID), payload); err != nil {
		commandFailures.WithLabelValues(action).Inc()
		e.logger.Errorf("publish %s command for request %s to drone %s: %v", action, cmd.RequestID, droneID, err)
		e.publishEvent(events.Event{Kind: events.KindPublishFail, DroneID: droneID, RequestID: cmd.RequestID, Err: err})
		return err
	}
	commandsPublished.WithLabelValues(action).Inc()
	e.logger.Debugw("command published", map[string]any{
		"drone_id": droneID, "request_id": cmd.RequestID, "action": action,
	})
	return nil
}

// storeError logs and reports an unexpected store failure.
func (e *Engine) storeError(op string, err error, tags map[string]string) {
	e.logger.Errorf("%s: %v", op, err)
	if tags == nil {
		tags = map[string]string{}
	}
	tags["module"] = "dispatch"
	tags["op"] = op
	monitoring.CaptureException(err, tags)
}
