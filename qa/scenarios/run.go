package scenarios

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/dronedispatch/core/dispatch"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	coremqtt "github.com/kilianp07/dronedispatch/core/mqtt"
	"github.com/kilianp07/dronedispatch/core/requests"
	"github.com/kilianp07/dronedispatch/infra/logger"
	"github.com/kilianp07/dronedispatch/infra/mqtt"
)

// RunScenario replays sc on fresh in-memory stores and a mock transport.
// Steps run sequentially on the calling goroutine.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx := context.Background()
	fl := fleet.NewMemoryStore()
	rq := requests.NewMemoryStore()
	client := mqtt.NewMockClient()

	eng, err := dispatch.NewEngine(fl, rq, nil, client, sc.Timeouts.Config(), logger.NopLogger{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	base := time.Now()
	var offset time.Duration
	eng.SetClock(func() time.Time { return base.Add(offset) })

	for _, d := range sc.Drones {
		if err := fl.Register(ctx, d.ID); err != nil {
			t.Fatalf("register %s: %v", d.ID, err)
		}
		if d.Position == "" && d.Status == "" {
			continue
		}
		rep, err := report(TelemetryDef{Drone: d.ID, Status: d.Status, Position: d.Position}, nil)
		if err != nil {
			t.Fatalf("drone %s: %v", d.ID, err)
		}
		if _, err := fl.UpsertTelemetry(ctx, d.ID, rep); err != nil {
			t.Fatalf("drone %s: %v", d.ID, err)
		}
	}

	ids := map[string]string{}
	for _, r := range sc.Requests {
		m, err := r.ToModel()
		if err != nil {
			t.Fatal(err)
		}
		created, err := rq.Create(ctx, m)
		if err != nil {
			t.Fatalf("request %s: %v", r.Key, err)
		}
		ids[r.Key] = created.ID
	}

	for i, st := range sc.Steps {
		switch {
		case st.Telemetry != nil:
			rep, err := report(*st.Telemetry, ids)
			if err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			if err := eng.HandleTelemetry(ctx, st.Telemetry.Drone, rep); err != nil {
				t.Logf("step %d: telemetry from %s: %v", i, st.Telemetry.Drone, err)
			}
		case st.Sweep:
			eng.Sweep(ctx)
		case st.AdvanceSeconds > 0:
			offset += time.Duration(st.AdvanceSeconds) * time.Second
		case st.Cancel != "":
			if err := rq.MarkStatus(ctx, ids[st.Cancel], model.RequestCancelling); err != nil {
				t.Logf("step %d: cancel %s: %v", i, st.Cancel, err)
			}
		case st.FailPublish != "":
			client.SetFail(coremqtt.CommandTopic(st.FailPublish), true)
		default:
			t.Fatalf("step %d does nothing", i)
		}
	}

	check(t, ctx, sc.Expected, ids, rq, fl, client)
}

func check(t *testing.T, ctx context.Context, exp Expected, ids map[string]string, rq requests.Store, fl fleet.Store, client *mqtt.MockClient) {
	t.Helper()
	for key, want := range exp.Requests {
		req, err := rq.Get(ctx, ids[key])
		if err != nil {
			t.Errorf("request %s: %v", key, err)
			continue
		}
		if string(req.Status) != want {
			t.Errorf("request %s: status %s, want %s", key, req.Status, want)
		}
	}
	for key, want := range exp.Assigned {
		req, err := rq.Get(ctx, ids[key])
		if err != nil {
			t.Errorf("request %s: %v", key, err)
			continue
		}
		if req.AssignedDrone != want {
			t.Errorf("request %s: assigned to %q, want %q", key, req.AssignedDrone, want)
		}
	}
	for id, want := range exp.Drones {
		d, err := fl.Get(ctx, id)
		if err != nil {
			t.Errorf("drone %s: %v", id, err)
			continue
		}
		if string(d.Status) != want {
			t.Errorf("drone %s: status %s, want %s", id, d.Status, want)
		}
	}
	deliveries, cancels := countCommands(t, client)
	for id, want := range exp.Commands {
		if deliveries[id] != want {
			t.Errorf("drone %s: %d delivery commands, want %d", id, deliveries[id], want)
		}
	}
	for id, want := range exp.CancelCommands {
		if cancels[id] != want {
			t.Errorf("drone %s: %d cancel commands, want %d", id, cancels[id], want)
		}
	}
}

func countCommands(t *testing.T, client *mqtt.MockClient) (map[string]int, map[string]int) {
	t.Helper()
	deliveries, cancels := map[string]int{}, map[string]int{}
	for _, msg := range client.Published() {
		id, ok := droneFromCommandTopic(msg.Topic)
		if !ok {
			continue
		}
		var cmd model.Command
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			t.Errorf("command on %s: %v", msg.Topic, err)
			continue
		}
		if cmd.Action == model.ActionCancel {
			cancels[id]++
		} else {
			deliveries[id]++
		}
	}
	return deliveries, cancels
}

func droneFromCommandTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, coremqtt.CommandTopic(""))
	return id, ok && id != ""
}

func report(td TelemetryDef, ids map[string]string) (model.Report, error) {
	status := model.DroneIdle
	if td.Status != "" {
		s, err := model.ParseDroneStatus(td.Status)
		if err != nil {
			return model.Report{}, err
		}
		status = s
	}
	rep := model.Report{Status: status}
	if td.Position != "" {
		p, err := geo.ParseLatLong(td.Position)
		if err != nil {
			return model.Report{}, err
		}
		rep.Position = &p
	}
	if td.Battery != "" {
		var lvl model.BatteryLevel
		if err := lvl.UnmarshalJSON([]byte(td.Battery)); err != nil {
			return model.Report{}, err
		}
		rep.Battery = lvl.Value
	}
	if td.Request != "" {
		rep.RequestID = td.Request
		if id, ok := ids[td.Request]; ok {
			rep.RequestID = id
		}
	}
	return rep, nil
}
