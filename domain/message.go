// This file defines Message records and related rules.
// A message is immutable except for growth of its read-by set.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxContentLength bounds a single message body. Anything longer is
// rejected with ErrInvalidContent before persistence.
const MaxContentLength = 4096

// Message represents one persisted chat entry. The timestamp is assigned by
// the store (server-authoritative) so that (CreatedAt, ID) totally orders
// messages within a channel.
type Message struct {
	ID         uuid.UUID
	ChannelID  ChannelID
	SenderID   string
	SenderName string
	Content    string
	CreatedAt  time.Time
	ReadBy     []string // sorted user ids; grows monotonically
}

// IsReadBy reports whether userID already belongs to the read-by set.
func (m Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
