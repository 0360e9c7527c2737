package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/dronedispatch/api"
	"github.com/kilianp07/dronedispatch/app/plugins"
	"github.com/kilianp07/dronedispatch/config"
	"github.com/kilianp07/dronedispatch/core/dispatch"
	"github.com/kilianp07/dronedispatch/core/events"
	coremon "github.com/kilianp07/dronedispatch/core/monitoring"
	"github.com/kilianp07/dronedispatch/infra/logger"
	"github.com/kilianp07/dronedispatch/infra/metrics"
	"github.com/kilianp07/dronedispatch/infra/monitoring"
	"github.com/kilianp07/dronedispatch/infra/mqtt"
	"github.com/kilianp07/dronedispatch/internal/eventbus"
)

// ErrStoreInit is returned when the fleet or request store cannot be opened.
var ErrStoreInit = errors.New("store initialisation failed")

var newClient = func(cfg mqtt.Config) (mqtt.Client, error) {
	return mqtt.NewPahoClient(cfg)
}

// Service orchestrates the dispatch engine, the API and the metrics exporters.
type Service struct {
	Engine *dispatch.Engine
	Stores plugins.Stores

	cfg    *config.Config
	client mqtt.Client
	bus    *eventbus.TypedBus[events.Event]
	sink   metrics.EventSink
	api    *api.Server
	log    logger.Logger
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		logg.Warnf("sentry disabled: %v", err)
	} else {
		coremon.Init(mon)
	}

	stores, err := plugins.OpenStores(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreInit, cfg.Store.Backend, err)
	}
	svc := &Service{Stores: stores, cfg: cfg, log: logg, sink: metrics.NopSink{}}

	sel, err := plugins.NewSelector(cfg.Dispatch.Selector)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	client, err := newClient(cfg.MQTT)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	svc.client = client

	engine, err := dispatch.NewEngine(stores.Fleet, stores.Requests, sel, client, cfg.Dispatch, logger.New("dispatch"))
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("dispatch engine: %w", err)
	}
	svc.bus = eventbus.NewTyped[events.Event]()
	engine.SetEventBus(svc.bus)
	metrics.TrackDroppedEvents(svc.bus.Dropped)
	svc.Engine = engine

	if cfg.Metrics.Influx.Enabled() {
		svc.sink = metrics.NewInfluxSinkWithFallback(ctx, cfg.Metrics.Influx)
	}
	if !cfg.API.Disabled {
		h := api.NewHandler(stores.Requests, stores.Fleet, logger.New("api"))
		svc.api = api.NewServer(h, cfg.API.ShutdownTimeout())
	}
	return svc, nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if _, nop := s.sink.(metrics.NopSink); !nop {
		sub := s.bus.SubscribeBuffered(256)
		g.Go(func() error {
			metrics.Forward(ctx, sub, s.sink, logger.New("event-sink"))
			return nil
		})
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" && !s.cfg.Metrics.DisablePrometheus {
		g.Go(func() error {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				return fmt.Errorf("prom server: %w", err)
			}
			return nil
		})
	}
	if s.api != nil {
		g.Go(func() error {
			if err := s.api.ListenAndServe(ctx, s.cfg.API.Addr); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return s.Engine.Run(ctx) })
	return g.Wait()
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.bus != nil {
		s.bus.Close()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mqtt close: %w", err))
		}
	}
	if s.Stores.Close != nil {
		if err := s.Stores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
