// Package presence maintains the best-effort online set.
// It is a cache of ephemeral facts: fully rebuildable from zero on restart,
// populated on each connect and decremented on each disconnect.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"pairwire/domain/event"
)

// Tracker reference-counts connections per user: a user with two tabs stays
// online until the last connection closes. Transitions are emitted into the
// broker's event channel and fanned out to every active connection;
// convergence is eventual, within one heartbeat interval.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
	events chan<- event.DomainEvent
	log    *slog.Logger
}

func NewTracker(events chan<- event.DomainEvent, log *slog.Logger) *Tracker {
	return &Tracker{
		counts: make(map[string]int),
		events: events,
		log:    log,
	}
}

// Connect registers one more connection for the user. The first connection
// flips the user online and broadcasts the transition.
func (t *Tracker) Connect(userID string) {
	t.mu.Lock()
	t.counts[userID]++
	wentOnline := t.counts[userID] == 1
	t.mu.Unlock()

	if wentOnline {
		t.emit(userID, true)
	}
}

// Disconnect drops one connection for the user. The last one flips the user
// offline. Unbalanced calls are ignored rather than driving the count
// negative.
func (t *Tracker) Disconnect(userID string) {
	t.mu.Lock()
	n, ok := t.counts[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	n--
	wentOffline := n == 0
	if wentOffline {
		delete(t.counts, userID)
	} else {
		t.counts[userID] = n
	}
	t.mu.Unlock()

	if wentOffline {
		t.emit(userID, false)
	}
}

// IsOnline reports whether at least one connection exists for the user.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID] > 0
}

// Snapshot returns the current online set, used for the welcome frame.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	online := make([]string, 0, len(t.counts))
	for userID := range t.counts {
		online = append(online, userID)
	}
	return online
}

func (t *Tracker) emit(userID string, isOnline bool) {
	evt := event.PresenceChanged{UserID: userID, IsOnline: isOnline, At: time.Now().UTC()}
	select {
	case t.events <- evt:
	default:
		// Best-effort: the periodic snapshot in the welcome frame and the
		// next transition will converge the view.
		t.log.Warn("Event channel full, presence transition dropped", "user_id", userID)
	}
}
