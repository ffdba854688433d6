// Package event defines the closed set of domain events flowing from the
// store to connected clients. Keeping the set closed (tagged variants, no
// string dispatch) lets both publish and subscribe sides switch exhaustively.
package event

import (
	"pairwire/domain"
	"time"
)

// DomainEvent is implemented by every event the broker fans out.
// A zero Channel() means the event is global and goes to every active sink
// (presence transitions); otherwise it is delivered to the channel's room.
type DomainEvent interface {
	Channel() domain.ChannelID
}

// MessageCreated is published after a message has been durably appended.
// TempID echoes the sender's client-generated token so its resilience layer
// can replace the optimistic entry with the canonical one.
type MessageCreated struct {
	Message domain.Message
	TempID  string
}

func (e MessageCreated) Channel() domain.ChannelID { return e.Message.ChannelID }

// MessageReadUpdated carries the full updated read-by set of one message.
type MessageReadUpdated struct {
	ChannelID domain.ChannelID
	MessageID string
	ReadBy    []string
}

func (e MessageReadUpdated) Channel() domain.ChannelID { return e.ChannelID }

// MessageDelivered is the lightweight receipt acknowledgement, distinct
// from read.
type MessageDelivered struct {
	ChannelID  domain.ChannelID
	MessageIDs []string
	ReceiverID string
	At         time.Time
}

func (e MessageDelivered) Channel() domain.ChannelID { return e.ChannelID }

// PresenceChanged announces an online/offline transition. Best-effort and
// global: every active connection receives it.
type PresenceChanged struct {
	UserID   string
	IsOnline bool
	At       time.Time
}

func (e PresenceChanged) Channel() domain.ChannelID { return "" }
