package simulator

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/dronedispatch/infra/logger"
)

// Run connects every drone of the generated fleet and runs them until ctx
// is cancelled. Drones that fail to connect are logged and skipped.
func Run(ctx context.Context, cfg Config, connect Connector, log logger.Logger) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return RunFleet(ctx, GenerateFleet(cfg), cfg, connect, log)
}

// RunFleet runs the given drones until ctx is cancelled.
func RunFleet(ctx context.Context, drones []*Drone, cfg Config, connect Connector, log logger.Logger) error {
	var wg sync.WaitGroup
	started := 0
	for _, d := range drones {
		client, err := connect(d.ID)
		if err != nil {
			log.Errorf("%s: connect: %v", d.ID, err)
			continue
		}
		started++
		wg.Add(1)
		go func(d *Drone) {
			defer wg.Done()
			defer client.Close()
			if err := d.Run(ctx, client, cfg.Interval, log); err != nil {
				log.Errorf("%s: %v", d.ID, err)
			}
		}(d)
	}
	if started == 0 && len(drones) > 0 {
		return errors.New("simulator: no drone could connect")
	}
	log.Infof("simulating %d drones", started)
	wg.Wait()
	return nil
}
