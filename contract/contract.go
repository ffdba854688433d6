//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"pairwire/domain"
	"pairwire/domain/event"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one consumer of fanned-out domain events, typically the write
// side of a client connection. Consume must honor ctx cancellation: a slow
// sink is skipped, never allowed to stall the room.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IPublisher hands domain events to the fanout pipeline.
type IPublisher interface {
	Publish(e event.DomainEvent)
}

// IRegistry owns room membership. All mutations of one channel's membership
// and all publishes to that channel are serialized with each other, so a
// publish concurrent with a join is deterministically delivered to the
// joining connection or not — never partially.
type IRegistry interface {
	Register(connID string, sink EventSink)
	Join(channelID domain.ChannelID, connID string, sink EventSink)
	Leave(channelID domain.ChannelID, connID string)
	DropConnection(connID string)
	PublishToChannel(ctx context.Context, channelID domain.ChannelID, e event.DomainEvent)
	Broadcast(ctx context.Context, e event.DomainEvent)
	RoomCount() int
	MemberCount(channelID domain.ChannelID) int
	ConnectionCount() int
}
