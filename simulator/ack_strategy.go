package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// AcceptStrategy decides whether and when a drone takes a delivery command.
type AcceptStrategy interface {
	// Accept blocks for the response delay and reports whether the command
	// is taken. It returns false when ctx ends first.
	Accept(ctx context.Context) bool
}

// AutoAccept takes every command after an optional fixed delay.
type AutoAccept struct {
	Delay time.Duration
}

// Accept implements AcceptStrategy.
func (a AutoAccept) Accept(ctx context.Context) bool {
	return wait(ctx, a.Delay)
}

// RandomAccept ignores commands with the configured probability. Ignored
// commands are left for the dispatcher's acknowledgement timeout.
type RandomAccept struct {
	Delay    time.Duration
	DropRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomAccept(delay time.Duration, dropRate float64, seed int64) *RandomAccept {
	return &RandomAccept{Delay: delay, DropRate: dropRate, rng: rand.New(rand.NewSource(seed))}
}

// Accept implements AcceptStrategy.
func (r *RandomAccept) Accept(ctx context.Context) bool {
	if r.DropRate > 0 {
		r.mu.Lock()
		drop := r.rng.Float64() < r.DropRate
		r.mu.Unlock()
		if drop {
			return false
		}
	}
	return wait(ctx, r.Delay)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
