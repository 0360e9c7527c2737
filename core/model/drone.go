package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/dronedispatch/core/geo"
)

// DroneStatus is the last status reported by (or reserved for) a drone.
type DroneStatus string

const (
	DroneIdle    DroneStatus = "idle"
	DroneOnRoute DroneStatus = "on_route"
	DroneOffline DroneStatus = "offline"
)

// ParseDroneStatus normalises a reported status. "on route" is accepted as
// an alias of on_route.
func ParseDroneStatus(s string) (DroneStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return DroneIdle, nil
	case "on_route", "on route", "on-route":
		return DroneOnRoute, nil
	case "offline":
		return DroneOffline, nil
	default:
		return "", fmt.Errorf("unknown drone status %q", s)
	}
}

// Drone is the fleet's view of one delivery drone.
type Drone struct {
	ID             string      `json:"drone_id"`
	Position       *geo.Point  `json:"curr_latlong,omitempty"`
	Battery        *float64    `json:"curr_battery,omitempty"`
	Status         DroneStatus `json:"curr_status"`
	CurrentRequest string      `json:"curr_request_id,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IdleDrone is the projection returned by idle fleet snapshots.
type IdleDrone struct {
	ID       string
	Position *geo.Point
}
