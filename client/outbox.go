// Package client is the resilience layer around the live connection: an
// optimistic outbox, ordered replay after reconnect, cursor reconciliation
// into the local timeline, and duplicate suppression. UIs sit on top of it
// and never talk to the wire directly.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"pairwire/domain"
	"pairwire/errors"
)

// Status is the lifecycle of an outgoing message as the sender sees it.
type Status string

const (
	StatusSending  Status = "sending"  // optimistic, not yet acknowledged by the broker
	StatusSent     Status = "sent"     // durably appended, canonical id known
	StatusReceived Status = "received" // counterpart acknowledged delivery
	StatusRead     Status = "read"     // counterpart appears in the read-by set
	StatusFailed   Status = "failed"   // retry budget exhausted, user may retry
)

// PendingMessage is one optimistic entry awaiting broker confirmation.
// TempID is the dedup token: the broker echoes it in the created event so
// the entry can be swapped for the canonical message exactly once.
type PendingMessage struct {
	TempID     string
	ChannelID  domain.ChannelID
	Content    string
	Status     Status
	Attempts   int
	EnqueuedAt time.Time
}

// Outbox holds unconfirmed outgoing messages in send order. Replay after a
// reconnect walks the queue front to back, one at a time, so the original
// order is preserved on the wire. A message that exhausts its retry budget
// turns failed and stops blocking the queue; a user retry re-arms it in
// place, keeping its original position.
type Outbox struct {
	mu     sync.Mutex
	queue  []*PendingMessage
	byTemp map[string]*PendingMessage
	budget int
}

func NewOutbox(retryBudget int) *Outbox {
	if retryBudget <= 0 {
		retryBudget = 3
	}
	return &Outbox{
		byTemp: make(map[string]*PendingMessage),
		budget: retryBudget,
	}
}

// Enqueue adds an optimistic entry and returns its snapshot.
func (o *Outbox) Enqueue(channelID domain.ChannelID, content string) PendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	pm := &PendingMessage{
		TempID:     uuid.NewString(),
		ChannelID:  channelID,
		Content:    content,
		Status:     StatusSending,
		EnqueuedAt: time.Now().UTC(),
	}
	o.queue = append(o.queue, pm)
	o.byTemp[pm.TempID] = pm
	return *pm
}

// Next returns the oldest entry still awaiting delivery, skipping failed
// ones. The second result is false when nothing is in flight.
func (o *Outbox) Next() (PendingMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, pm := range o.queue {
		if pm.Status == StatusSending {
			return *pm, true
		}
	}
	return PendingMessage{}, false
}

// RecordAttempt bumps the entry's attempt counter. Returns
// ErrRetryBudgetExhausted once the budget no longer allows another try.
func (o *Outbox) RecordAttempt(tempID string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pm, ok := o.byTemp[tempID]
	if !ok {
		return 0, errors.ErrRetryBudgetExhausted
	}
	pm.Attempts++
	if pm.Attempts > o.budget {
		return pm.Attempts, errors.ErrRetryBudgetExhausted
	}
	return pm.Attempts, nil
}

// Confirm resolves an entry against the broker's echoed temp id and removes
// it from the queue. Unknown or already-confirmed ids return
// ErrDuplicateDelivery, the duplicate-suppression path.
func (o *Outbox) Confirm(tempID string) (PendingMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pm, ok := o.byTemp[tempID]
	if !ok {
		return PendingMessage{}, errors.ErrDuplicateDelivery
	}
	delete(o.byTemp, tempID)
	for i, queued := range o.queue {
		if queued.TempID == tempID {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			break
		}
	}
	pm.Status = StatusSent
	return *pm, nil
}

// Fail marks the entry failed. It stays visible in the queue for the user.
func (o *Outbox) Fail(tempID string) (PendingMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pm, ok := o.byTemp[tempID]
	if !ok {
		return PendingMessage{}, false
	}
	pm.Status = StatusFailed
	return *pm, true
}

// Retry re-arms a failed entry in its original queue position.
func (o *Outbox) Retry(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	pm, ok := o.byTemp[tempID]
	if !ok || pm.Status != StatusFailed {
		return false
	}
	pm.Status = StatusSending
	pm.Attempts = 0
	return true
}

// Pending snapshots the queue in send order.
func (o *Outbox) Pending() []PendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]PendingMessage, 0, len(o.queue))
	for _, pm := range o.queue {
		out = append(out, *pm)
	}
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
