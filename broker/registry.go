// Package broker owns the delivery side of the system: room membership,
// event fanout, and the workers supervising them. It routes events without
// containing domain rules.
package broker

import (
	"context"
	"log/slog"
	"sync"

	"pairwire/contract"
	"pairwire/domain"
	"pairwire/domain/event"
)

// room groups the connections currently joined to one channel. Its mutex is
// the serialization point required for that channel: joins, leaves, and
// publishes interleave atomically, so a publish concurrent with a join is
// either delivered to the newcomer or not — never partially.
type room struct {
	mu      sync.Mutex
	members map[string]contract.EventSink // connID -> sink
}

// Registry maps channels to rooms and remembers which rooms each connection
// joined so a disconnect can clean up everything at once. Operations on
// different channels never contend with each other.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[domain.ChannelID]*room
	byConn map[string]map[domain.ChannelID]struct{} // connID -> joined channels
	sinks  map[string]contract.EventSink            // connID -> sink
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[domain.ChannelID]*room),
		byConn: make(map[string]map[domain.ChannelID]struct{}),
		sinks:  make(map[string]contract.EventSink),
		log:    log,
	}
}

// Register records an authenticated connection's sink so global broadcasts
// (presence) reach it before it joins any room.
func (r *Registry) Register(connID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[connID] = sink
}

// Join adds a connection to a channel's room, creating the room on the fly.
func (r *Registry) Join(channelID domain.ChannelID, connID string, sink contract.EventSink) {
	r.mu.Lock()
	rm, ok := r.rooms[channelID]
	if !ok {
		rm = &room{members: make(map[string]contract.EventSink)}
		r.rooms[channelID] = rm
	}
	if _, ok := r.byConn[connID]; !ok {
		r.byConn[connID] = make(map[domain.ChannelID]struct{})
	}
	r.byConn[connID][channelID] = struct{}{}
	r.sinks[connID] = sink
	r.mu.Unlock()

	rm.mu.Lock()
	rm.members[connID] = sink
	rm.mu.Unlock()
}

// Leave removes a connection from one room, deleting the room when the last
// member leaves so abandoned channels don't accumulate.
func (r *Registry) Leave(channelID domain.ChannelID, connID string) {
	r.mu.Lock()
	rm, ok := r.rooms[channelID]
	if ok {
		if joined, exists := r.byConn[connID]; exists {
			delete(joined, channelID)
			if len(joined) == 0 {
				delete(r.byConn, connID)
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	delete(rm.members, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under the registry lock: someone may have joined between
		// the two critical sections.
		if rm2, still := r.rooms[channelID]; still && rm2 == rm {
			rm.mu.Lock()
			if len(rm.members) == 0 {
				delete(r.rooms, channelID)
			}
			rm.mu.Unlock()
		}
		r.mu.Unlock()
	}
}

// DropConnection removes a connection from every room it joined. Used for
// disconnects and liveness-timeout cleanup.
func (r *Registry) DropConnection(connID string) {
	r.mu.RLock()
	joined := make([]domain.ChannelID, 0, len(r.byConn[connID]))
	for channelID := range r.byConn[connID] {
		joined = append(joined, channelID)
	}
	r.mu.RUnlock()

	for _, channelID := range joined {
		r.Leave(channelID, connID)
	}

	r.mu.Lock()
	delete(r.sinks, connID)
	delete(r.byConn, connID)
	r.mu.Unlock()
}

// PublishToChannel delivers the event to every current member of the
// channel's room, exactly once each, under the room lock.
func (r *Registry) PublishToChannel(ctx context.Context, channelID domain.ChannelID, e event.DomainEvent) {
	r.mu.RLock()
	rm, ok := r.rooms[channelID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for connID, sink := range rm.members {
		if err := sink.Consume(ctx, e); err != nil {
			r.log.Warn("Sink rejected event", "conn_id", connID, "channel_id", channelID, "error", err)
		}
	}
}

// Broadcast delivers a global event (presence) to every active sink.
func (r *Registry) Broadcast(ctx context.Context, e event.DomainEvent) {
	r.mu.RLock()
	sinks := make(map[string]contract.EventSink, len(r.sinks))
	for connID, sink := range r.sinks {
		sinks[connID] = sink
	}
	r.mu.RUnlock()

	for connID, sink := range sinks {
		if err := sink.Consume(ctx, e); err != nil {
			r.log.Warn("Sink rejected broadcast", "conn_id", connID, "error", err)
		}
	}
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) MemberCount(channelID domain.ChannelID) int {
	r.mu.RLock()
	rm, ok := r.rooms[channelID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// ConnectionCount reports how many sinks are currently registered.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
