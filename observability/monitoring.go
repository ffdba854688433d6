// Package observability aggregates runtime gauges for the stats worker.
package observability

import (
	"sync"
	"sync/atomic"
)

// BrokerStats is the gauge snapshot logged periodically.
type BrokerStats struct {
	Connections      int
	Rooms            int
	OnlineUsers      int
	EventsPublished  uint64
	EventsDropped    uint64
	MessagesAppended uint64
}

// MonitoringManager collects counters from the hot path (atomics) and
// point-in-time gauges from registered probes.
type MonitoringManager struct {
	mu     sync.RWMutex
	probes []func(*BrokerStats)

	eventsPublished  uint64
	eventsDropped    uint64
	messagesAppended uint64
}

func NewMonitoringManager() *MonitoringManager {
	return &MonitoringManager{}
}

// AddProbe registers a gauge collector invoked on each snapshot.
func (mm *MonitoringManager) AddProbe(probe func(*BrokerStats)) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.probes = append(mm.probes, probe)
}

func (mm *MonitoringManager) IncrEventsPublished() {
	atomic.AddUint64(&mm.eventsPublished, 1)
}

func (mm *MonitoringManager) IncrEventsDropped() {
	atomic.AddUint64(&mm.eventsDropped, 1)
}

func (mm *MonitoringManager) IncrMessagesAppended() {
	atomic.AddUint64(&mm.messagesAppended, 1)
}

// Snapshot merges counters and probe gauges into one consistent view.
func (mm *MonitoringManager) Snapshot() BrokerStats {
	stats := BrokerStats{
		EventsPublished:  atomic.LoadUint64(&mm.eventsPublished),
		EventsDropped:    atomic.LoadUint64(&mm.eventsDropped),
		MessagesAppended: atomic.LoadUint64(&mm.messagesAppended),
	}
	mm.mu.RLock()
	probes := mm.probes
	mm.mu.RUnlock()
	for _, probe := range probes {
		probe(&stats)
	}
	return stats
}
