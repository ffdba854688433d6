//go:generate go run go.uber.org/mock/mockgen -source=channel_service.go -destination=../mocks/mock_channel_service.go -package=mocks
package services

import (
	"fmt"
	"log/slog"

	"pairwire/domain"
	"pairwire/errors"
	"pairwire/storage"
)

type IChannelService interface {
	Resolve(callerID, counterpartID string) (domain.Channel, error)
	Get(channelID domain.ChannelID) (domain.Channel, error)
}

// ChannelService is the channel directory: it resolves the single channel
// for a participant pair, enforcing the role-pairing rule through the
// account directory.
type ChannelService struct {
	channels storage.IChannelRepository
	users    storage.IUserRepository
	log      *slog.Logger
}

func NewChannelService(channels storage.IChannelRepository, users storage.IUserRepository,
	log *slog.Logger) *ChannelService {
	return &ChannelService{channels: channels, users: users, log: log}
}

// Resolve returns the channel between caller and counterpart, creating it on
// first contact. Exactly one of the two must be a coordinator and the other
// a contributor; anything else fails with ErrInvalidPairing before any
// record is written. Safe under concurrent first contact from both sides:
// the repository's transactional get-or-create collapses the race.
func (s *ChannelService) Resolve(callerID, counterpartID string) (domain.Channel, error) {
	if callerID == counterpartID {
		return domain.Channel{}, errors.ErrInvalidPairing
	}

	caller, err := s.users.GetUserByID(callerID)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("resolving caller: %w", err)
	}
	counterpart, err := s.users.GetUserByID(counterpartID)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("resolving counterpart: %w", err)
	}

	if !caller.Role.Valid() || !counterpart.Role.Valid() || caller.Role == counterpart.Role {
		return domain.Channel{}, errors.ErrInvalidPairing
	}

	channel, _, err := s.channels.GetOrCreate(domain.PairKey(callerID, counterpartID))
	return channel, err
}

// Get fetches a channel by id, for membership checks at the transport edge.
func (s *ChannelService) Get(channelID domain.ChannelID) (domain.Channel, error) {
	return s.channels.GetByID(channelID)
}
