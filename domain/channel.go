package domain

import (
	"sort"
	"time"
)

type ChannelID string

// Channel is the single addressable conversation between one coordinator and
// one contributor. At most one exists per unordered participant pair, and a
// channel is never deleted.
type Channel struct {
	ID           ChannelID
	Participants [2]string // participant user ids, sorted lexicographically
	CreatedAt    time.Time
	LastActivity time.Time
}

// PairKey normalizes two participant ids into the canonical unordered pair.
// The sorted order is what makes the uniqueness constraint on the pair hold
// regardless of which side resolves first.
func PairKey(a, b string) [2]string {
	pair := [2]string{a, b}
	sort.Strings(pair[:])
	return pair
}

// HasParticipant reports whether userID is one of the two channel members.
func (c Channel) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Counterpart returns the other participant of the channel.
func (c Channel) Counterpart(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}
