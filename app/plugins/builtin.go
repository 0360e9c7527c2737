package plugins

import (
	"context"

	"github.com/kilianp07/dronedispatch/config"
	"github.com/kilianp07/dronedispatch/core/dispatch"
	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/requests"
	"github.com/kilianp07/dronedispatch/infra/sqlite"
)

func init() {
	RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (Stores, error) {
		return Stores{Fleet: fleet.NewMemoryStore(), Requests: requests.NewMemoryStore()}, nil
	})
	RegisterStore(config.StoreSQLite, func(ctx context.Context, cfg config.StoreConfig) (Stores, error) {
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return Stores{}, err
		}
		return Stores{Fleet: db.Fleet(), Requests: db.Requests(), Close: db.Close}, nil
	})

	RegisterSelector("nearest", func() (dispatch.Selector, error) {
		return dispatch.NearestSelector{}, nil
	})
}
