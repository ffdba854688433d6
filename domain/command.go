package domain

import "time"

type Command interface {
	Channel() ChannelID
}

// SendMessageCommand carries a message-sending intent into the store.
// TempID is the client-generated token echoed back in the created event so
// the sender can deduplicate its optimistic entry.
type SendMessageCommand struct {
	ChannelID ChannelID
	SenderID  string
	Content   string
	TempID    string
}

func (c SendMessageCommand) Channel() ChannelID { return c.ChannelID }

// MarkReadCommand adds the reader to the read-by set of each message.
type MarkReadCommand struct {
	ChannelID  ChannelID
	MessageIDs []string
	ReaderID   string
}

func (c MarkReadCommand) Channel() ChannelID { return c.ChannelID }

// ListMessagesCommand pages through a channel's history in ascending
// (timestamp, id) order. A nil cursor starts from the beginning.
type ListMessagesCommand struct {
	ChannelID ChannelID
	Cursor    *string
	Limit     int
}

func (c ListMessagesCommand) Channel() ChannelID { return c.ChannelID }

// AckReceivedCommand is the lightweight delivery acknowledgement, distinct
// from read.
type AckReceivedCommand struct {
	ChannelID  ChannelID
	MessageIDs []string
	ReceiverID string
	At         time.Time
}

func (c AckReceivedCommand) Channel() ChannelID { return c.ChannelID }
