package broker

import (
	"context"
	"log/slog"

	"pairwire/broker/workers"
	"pairwire/contract"
	"pairwire/domain/event"
	"pairwire/observability"
)

// Broker wires the event channel, the registry, and the supervised workers
// into one lifecycle. Services publish domain events here; the fanout worker
// drains them in arrival order, which is what preserves publish order within
// a channel (a single consumer, one event at a time).
type Broker struct {
	log            *slog.Logger
	registry       contract.IRegistry
	supervisor     contract.ISupervisor
	monitoring     *observability.MonitoringManager
	events         chan event.DomainEvent
	permanentSinks []contract.EventSink
}

func New(log *slog.Logger, registry contract.IRegistry, supervisor contract.ISupervisor,
	monitoring *observability.MonitoringManager, bufferSize int) *Broker {
	return &Broker{
		log:        log,
		registry:   registry,
		supervisor: supervisor,
		monitoring: monitoring,
		events:     make(chan event.DomainEvent, bufferSize),
	}
}

// AddSinks registers permanent sinks consuming every event regardless of
// room membership (projections, audit logging). Must be called before Start.
func (b *Broker) AddSinks(sinks ...contract.EventSink) {
	b.permanentSinks = append(b.permanentSinks, sinks...)
}

// Publish hands an event to the fanout pipeline. Non-blocking: a full buffer
// drops the event with a warning, relying on the clients' cursor
// reconciliation to fill the gap.
func (b *Broker) Publish(e event.DomainEvent) {
	select {
	case b.events <- e:
		b.monitoring.IncrEventsPublished()
	default:
		b.monitoring.IncrEventsDropped()
		b.log.Warn("Event channel full, dropping event", "channel_id", e.Channel())
	}
}

// Events exposes the publish side of the pipeline for components that emit
// directly (presence tracker).
func (b *Broker) Events() chan<- event.DomainEvent {
	return b.events
}

// Start registers the workers and runs the supervisor until ctx is canceled.
func (b *Broker) Start(ctx context.Context, extra ...contract.Worker) {
	fanout := workers.NewEventFanout(b.log, b.registry, b.events, b.permanentSinks)
	b.supervisor.Add(fanout)
	for _, w := range extra {
		b.supervisor.Add(w)
	}
	b.log.Info("Starting broker and all supervised workers")
	b.supervisor.Run(ctx)
}

// Stop cancels the supervision context; workers drain and exit.
func (b *Broker) Stop() {
	b.log.Info("Requesting broker shutdown")
	b.supervisor.Stop()
}
