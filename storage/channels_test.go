package storage

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pairwire/domain"
	"pairwire/errors"
)

func TestChannelRepository_GetOrCreate(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewChannelRepository(db, slog.Default())

	first, created, err := repository.GetOrCreate(domain.PairKey("bob", "alice"))
	req.NoError(err)
	req.True(created)
	req.Equal([2]string{"alice", "bob"}, first.Participants)

	// Same pair in the opposite order resolves to the same channel
	second, created, err := repository.GetOrCreate(domain.PairKey("alice", "bob"))
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)
}

func TestChannelRepository_GetByID(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewChannelRepository(db, slog.Default())

	channel, _, err := repository.GetOrCreate(domain.PairKey("alice", "bob"))
	req.NoError(err)

	fetched, err := repository.GetByID(channel.ID)
	req.NoError(err)
	req.Equal(channel.ID, fetched.ID)
	req.Equal(channel.Participants, fetched.Participants)

	_, err = repository.GetByID("unknown")
	req.ErrorIs(err, errors.ErrChannelNotFound)
}

// Both participants racing on first contact must converge on one channel:
// the transactional get-or-create retries the conflict loser, which then
// reads the winner's record.
func TestChannelRepository_ConcurrentFirstContact(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository := NewChannelRepository(db, slog.Default())

	const goroutines = 8
	ids := make([]domain.ChannelID, goroutines)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			channel, _, err := repository.GetOrCreate(domain.PairKey("alice", "bob"))
			require.NoError(t, err)
			ids[n] = channel.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		req.Equal(ids[0], id)
	}
}
