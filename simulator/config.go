// Package simulator runs a fleet of simulated delivery drones that speak the
// dispatch MQTT protocol.
package simulator

import (
	"errors"
	"time"

	"github.com/kilianp07/dronedispatch/core/geo"
)

// Config holds parameters for the simulator.
type Config struct {
	Count    int
	IDPrefix string
	// Interval between two status reports.
	Interval time.Duration
	SpeedMPS float64
	Home     geo.Point
	// SpreadMeters bounds the random start offset around Home.
	SpreadMeters float64

	AcceptDelay time.Duration
	DropRate    float64
	// DisconnectRate is the probability per report of dropping offline.
	DisconnectRate float64
	OfflineTicks   int

	DrainPerKm      float64
	ChargePerMinute float64
	Seed            int64
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Count == 0 {
		c.Count = 1
	}
	if c.IDPrefix == "" {
		c.IDPrefix = "drone"
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
	if c.SpeedMPS == 0 {
		c.SpeedMPS = 15
	}
	if c.SpreadMeters == 0 {
		c.SpreadMeters = 2000
	}
	if c.OfflineTicks == 0 {
		c.OfflineTicks = 3
	}
	if c.DrainPerKm == 0 {
		c.DrainPerKm = 1.5
	}
	if c.ChargePerMinute == 0 {
		c.ChargePerMinute = 2
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Validate checks the ranges.
func (c Config) Validate() error {
	switch {
	case c.Count < 0:
		return errors.New("count must not be negative")
	case c.Interval < 0:
		return errors.New("interval must not be negative")
	case c.SpeedMPS < 0:
		return errors.New("speed must not be negative")
	case c.DropRate < 0 || c.DropRate > 1:
		return errors.New("drop rate must be within [0,1]")
	case c.DisconnectRate < 0 || c.DisconnectRate > 1:
		return errors.New("disconnect rate must be within [0,1]")
	}
	return nil
}
