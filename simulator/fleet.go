package simulator

import (
	"fmt"
	"math"
	"math/rand"
)

// GenerateFleet creates cfg.Count drones with IDs <prefix>0001..<prefix>NNNN
// scattered uniformly within cfg.SpreadMeters of cfg.Home.
func GenerateFleet(cfg Config) []*Drone {
	if cfg.Count <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	var strat AcceptStrategy = AutoAccept{Delay: cfg.AcceptDelay}
	if cfg.DropRate > 0 {
		strat = NewRandomAccept(cfg.AcceptDelay, cfg.DropRate, cfg.Seed)
	}
	ds := make([]*Drone, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		id := fmt.Sprintf("%s%04d", cfg.IDPrefix, i+1)
		r := cfg.SpreadMeters * math.Sqrt(rng.Float64())
		theta := rng.Float64() * 2 * math.Pi
		start := offset(cfg.Home, r*math.Cos(theta), r*math.Sin(theta))
		b := &Battery{
			Level:           60 + rng.Float64()*40,
			DrainPerKm:      cfg.DrainPerKm,
			ChargePerMinute: cfg.ChargePerMinute,
		}
		d := NewDrone(id, start, cfg.SpeedMPS, b, strat)
		d.DisconnectRate = cfg.DisconnectRate
		d.OfflineTicks = cfg.OfflineTicks
		d.rng = rand.New(rand.NewSource(cfg.Seed + int64(i) + 1))
		ds[i] = d
	}
	return ds
}

// IDs returns the drone ids of the fleet in order.
func IDs(ds []*Drone) []string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}
