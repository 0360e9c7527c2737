// Package scenarios replays YAML described fleet situations against the
// dispatch engine and checks the resulting request and drone states.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dronedispatch/core/dispatch"
	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
)

type DroneDef struct {
	ID       string `yaml:"id"`
	Position string `yaml:"position,omitempty"`
	Status   string `yaml:"status,omitempty"`
}

type RequestDef struct {
	Key    string  `yaml:"key"`
	Origin string  `yaml:"origin"`
	Dest   string  `yaml:"dest"`
	Weight float64 `yaml:"weight"`
}

func (r RequestDef) ToModel() (model.Request, error) {
	origin, err := geo.ParseLatLong(r.Origin)
	if err != nil {
		return model.Request{}, fmt.Errorf("request %s origin: %w", r.Key, err)
	}
	dest, err := geo.ParseLatLong(r.Dest)
	if err != nil {
		return model.Request{}, fmt.Errorf("request %s dest: %w", r.Key, err)
	}
	w := r.Weight
	if w == 0 {
		w = 1
	}
	return model.Request{Origin: origin, Destination: dest, Weight: w}, nil
}

// TelemetryDef is one status report. Request refers to a request key.
type TelemetryDef struct {
	Drone    string `yaml:"drone"`
	Status   string `yaml:"status"`
	Position string `yaml:"position,omitempty"`
	Battery  string `yaml:"battery,omitempty"`
	Request  string `yaml:"request,omitempty"`
}

// Step performs exactly one of its actions.
type Step struct {
	Telemetry      *TelemetryDef `yaml:"telemetry,omitempty"`
	Sweep          bool          `yaml:"sweep,omitempty"`
	AdvanceSeconds int           `yaml:"advance_seconds,omitempty"`
	Cancel         string        `yaml:"cancel,omitempty"`
	FailPublish    string        `yaml:"fail_publish,omitempty"`
}

type Expected struct {
	Requests map[string]string `yaml:"requests,omitempty"`
	// Assigned maps request keys to the drone serving them.
	Assigned       map[string]string `yaml:"assigned,omitempty"`
	Drones         map[string]string `yaml:"drones,omitempty"`
	Commands       map[string]int    `yaml:"commands,omitempty"`
	CancelCommands map[string]int    `yaml:"cancel_commands,omitempty"`
}

type Timeouts struct {
	AckSeconds    int `yaml:"ack_seconds,omitempty"`
	CancelSeconds int `yaml:"cancel_seconds,omitempty"`
}

func (t Timeouts) Config() dispatch.Config {
	return dispatch.Config{AckTimeoutSeconds: t.AckSeconds, CancelTimeoutSeconds: t.CancelSeconds}
}

type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Timeouts    Timeouts     `yaml:"timeouts,omitempty"`
	Drones      []DroneDef   `yaml:"drones"`
	Requests    []RequestDef `yaml:"requests"`
	Steps       []Step       `yaml:"steps"`
	Expected    Expected     `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario has no name", path)
	}
	return &sc, nil
}
