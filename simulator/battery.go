package simulator

import (
	"sync"
	"time"
)

// Battery models the drone pack as a percentage drained by distance flown
// and recharged while idle.
type Battery struct {
	Level           float64 // percent [0,100]
	DrainPerKm      float64
	ChargePerMinute float64
	mu              sync.Mutex
}

// Fly drains the battery for the given distance in metres. It returns the
// remaining level.
func (b *Battery) Fly(meters float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if meters > 0 {
		b.Level -= meters / 1000 * b.DrainPerKm
	}
	b.clamp()
	return b.Level
}

// Charge adds charge for dt spent idle.
func (b *Battery) Charge(dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if dt > 0 {
		b.Level += dt.Minutes() * b.ChargePerMinute
	}
	b.clamp()
	return b.Level
}

func (b *Battery) Value() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Level
}

func (b *Battery) clamp() {
	if b.Level < 0 {
		b.Level = 0
	}
	if b.Level > 100 {
		b.Level = 100
	}
}
