package workers

import (
	"context"
	"log/slog"

	"pairwire/contract"
	"pairwire/domain/event"
)

// Ensure *EventFanout implements the contract.Worker interface at compile time.
var _ contract.Worker = (*EventFanout)(nil)

// EventFanout drains the broker's event channel one event at a time and
// routes each to its destination: the channel's room for channel events,
// every active sink for global ones, plus the permanent sinks.
//
// Single-consumer draining is what preserves publish order within a channel.
// Delivery is best-effort; durability lives in the store, not here.
type EventFanout struct {
	log            *slog.Logger
	registry       contract.IRegistry
	events         chan event.DomainEvent
	permanentSinks []contract.EventSink
}

func NewEventFanout(log *slog.Logger, registry contract.IRegistry,
	events chan event.DomainEvent, permanentSinks []contract.EventSink) *EventFanout {
	return &EventFanout{
		log:            log,
		registry:       registry,
		events:         events,
		permanentSinks: permanentSinks,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout routes one event. Global events (empty channel id) go to every
// active connection; channel events go to the room's current members.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	for _, sink := range w.permanentSinks {
		if err := sink.Consume(ctx, evt); err != nil {
			w.log.Warn("Permanent sink rejected event", "error", err)
		}
	}

	if evt.Channel() == "" {
		w.registry.Broadcast(ctx, evt)
		return
	}
	w.registry.PublishToChannel(ctx, evt.Channel(), evt)
}
