package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/dronedispatch/core/events"
	"github.com/kilianp07/dronedispatch/infra/logger"
)

// EventSink stores dispatch engine events.
type EventSink interface {
	RecordEvent(ev events.Event) error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) RecordEvent(events.Event) error { return nil }

// Forward writes every event from sub to sink until sub is closed or ctx is
// done. Write failures are logged and the event is dropped.
func Forward(ctx context.Context, sub <-chan events.Event, sink EventSink, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := sink.RecordEvent(ev); err != nil {
				log.Warnf("record %s event: %v", ev.Kind, err)
			}
		}
	}
}

var (
	droppedSource atomic.Pointer[func() uint64]
	droppedOnce   sync.Once
	droppedEvents = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "dispatch_events_dropped_total",
		Help: "Engine events a slow subscriber missed",
	}, func() float64 {
		if f := droppedSource.Load(); f != nil {
			return float64((*f)())
		}
		return 0
	})
)

// TrackDroppedEvents exports the drop counter of the running event bus.
// The latest source replaces any earlier one.
func TrackDroppedEvents(source func() uint64) {
	droppedSource.Store(&source)
	droppedOnce.Do(func() { prometheus.MustRegister(droppedEvents) })
}
