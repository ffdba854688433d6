// Package projection builds local timelines from observed events.
// Handles ordering, deduplication, and cursor-based back-fill merging.
// Does not emit events or interact with UI directly.
package projection

import (
	"sort"
	"sync"

	"pairwire/domain"
)

// Timeline is the single source of truth for what a client has seen per
// channel. Push events insert into the ordered log; the low-frequency
// reconciliation pass merges cursor pages into the same log — it fills gaps,
// it never overwrites push-derived state wholesale.
type Timeline struct {
	mu        sync.Mutex
	byChannel map[domain.ChannelID]*channelLog
}

type channelLog struct {
	messages []domain.Message          // ascending (CreatedAt, ID)
	index    map[string]int            // message id -> position
	cursor   *string                   // store cursor of the newest back-filled page
}

func NewTimeline() *Timeline {
	return &Timeline{byChannel: make(map[domain.ChannelID]*channelLog)}
}

// Apply inserts one message in order. Returns false when the message id was
// already applied — the duplicate-delivery no-op.
func (t *Timeline) Apply(msg domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logFor(msg.ChannelID).insert(msg)
}

// ApplyRead replaces the read-by set of a known message. The set only grows
// upstream, so replacing with the relayed value is always monotonic.
// Returns false when the message is unknown locally (back-fill will carry
// the read state instead).
func (t *Timeline) ApplyRead(channelID domain.ChannelID, messageID string, readBy []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl, ok := t.byChannel[channelID]
	if !ok {
		return false
	}
	pos, ok := cl.index[messageID]
	if !ok {
		return false
	}
	cl.messages[pos].ReadBy = readBy
	return true
}

// Merge applies a back-filled page of history and records its cursor for
// the next reconciliation. Duplicates against push-derived entries are
// skipped; read-by sets of known messages are refreshed.
func (t *Timeline) Merge(channelID domain.ChannelID, page []domain.Message, cursor *string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl := t.logFor(channelID)
	for _, msg := range page {
		if pos, seen := cl.index[msg.ID.String()]; seen {
			cl.messages[pos].ReadBy = msg.ReadBy
			continue
		}
		cl.insert(msg)
	}
	if cursor != nil {
		cl.cursor = cursor
	}
}

// Messages returns a copy of the channel's ordered log.
func (t *Timeline) Messages(channelID domain.ChannelID) []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl, ok := t.byChannel[channelID]
	if !ok {
		return nil
	}
	out := make([]domain.Message, len(cl.messages))
	copy(out, cl.messages)
	return out
}

// Get looks a single message up by id.
func (t *Timeline) Get(channelID domain.ChannelID, messageID string) (domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl, ok := t.byChannel[channelID]
	if !ok {
		return domain.Message{}, false
	}
	pos, ok := cl.index[messageID]
	if !ok {
		return domain.Message{}, false
	}
	return cl.messages[pos], true
}

// Cursor returns the reconciliation cursor for the channel (nil = start).
func (t *Timeline) Cursor(channelID domain.ChannelID) *string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl, ok := t.byChannel[channelID]
	if !ok {
		return nil
	}
	return cl.cursor
}

// Channels lists every channel the timeline has state for.
func (t *Timeline) Channels() []domain.ChannelID {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.ChannelID, 0, len(t.byChannel))
	for id := range t.byChannel {
		out = append(out, id)
	}
	return out
}

func (t *Timeline) logFor(channelID domain.ChannelID) *channelLog {
	cl, ok := t.byChannel[channelID]
	if !ok {
		cl = &channelLog{index: make(map[string]int)}
		t.byChannel[channelID] = cl
	}
	return cl
}

func (cl *channelLog) insert(msg domain.Message) bool {
	id := msg.ID.String()
	if _, seen := cl.index[id]; seen {
		return false
	}

	pos := sort.Search(len(cl.messages), func(i int) bool {
		m := cl.messages[i]
		if !m.CreatedAt.Equal(msg.CreatedAt) {
			return m.CreatedAt.After(msg.CreatedAt)
		}
		return m.ID.String() > id
	})

	cl.messages = append(cl.messages, domain.Message{})
	copy(cl.messages[pos+1:], cl.messages[pos:])
	cl.messages[pos] = msg

	cl.index[id] = pos
	for i := pos + 1; i < len(cl.messages); i++ {
		cl.index[cl.messages[i].ID.String()] = i
	}
	return true
}
