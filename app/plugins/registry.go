// Package plugins maps configuration names to store backends and drone
// selection strategies.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/dronedispatch/config"
	"github.com/kilianp07/dronedispatch/core/dispatch"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/requests"
)

// Stores bundles the state backends used by the engine and the API.
type Stores struct {
	Fleet    fleet.Store
	Requests requests.Store
	// Close releases the backend. It may be nil.
	Close func() error
}

// StoreFactory opens a store backend from its configuration.
type StoreFactory func(ctx context.Context, cfg config.StoreConfig) (Stores, error)

// SelectorFactory builds a drone selection strategy.
type SelectorFactory func() (dispatch.Selector, error)

var (
	mu        sync.RWMutex
	stores    = map[string]StoreFactory{}
	selectors = map[string]SelectorFactory{}
)

func RegisterStore(name string, f StoreFactory) {
	mu.Lock()
	stores[name] = f
	mu.Unlock()
}

func RegisterSelector(name string, f SelectorFactory) {
	mu.Lock()
	selectors[name] = f
	mu.Unlock()
}

// OpenStores opens the backend named by cfg.Backend.
func OpenStores(ctx context.Context, cfg config.StoreConfig) (Stores, error) {
	mu.RLock()
	f, ok := stores[cfg.Backend]
	mu.RUnlock()
	if !ok {
		return Stores{}, fmt.Errorf("unknown store backend %q (have %v)", cfg.Backend, StoreNames())
	}
	return f(ctx, cfg)
}

// NewSelector builds the strategy registered under name.
func NewSelector(name string) (dispatch.Selector, error) {
	mu.RLock()
	f, ok := selectors[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown selector %q", name)
	}
	return f()
}

// StoreNames lists the registered backends in sorted order.
func StoreNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(stores))
	for n := range stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
