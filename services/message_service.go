//go:generate go run go.uber.org/mock/mockgen -source=message_service.go -destination=../mocks/mock_message_service.go -package=mocks
package services

import (
	"fmt"
	"log/slog"
	"time"

	"pairwire/contract"
	"pairwire/domain"
	"pairwire/domain/event"
	"pairwire/errors"
	"pairwire/observability"
	"pairwire/storage"
)

type IMessageService interface {
	Post(cmd domain.SendMessageCommand) (domain.Message, error)
	List(cmd domain.ListMessagesCommand) ([]domain.Message, *string, error)
	MarkRead(cmd domain.MarkReadCommand) ([]domain.Message, error)
	AckReceived(cmd domain.AckReceivedCommand) error
}

// MessageService runs the store-then-fanout path: persist first (durable
// truth), then publish the event for real-time delivery. Persistence and
// publication never partially apply — a failed append publishes nothing.
type MessageService struct {
	messages   storage.IMessageRepository
	channels   storage.IChannelRepository
	users      storage.IUserRepository
	publisher  contract.IPublisher
	monitoring *observability.MonitoringManager
	log        *slog.Logger
}

func NewMessageService(messages storage.IMessageRepository, channels storage.IChannelRepository,
	users storage.IUserRepository, publisher contract.IPublisher,
	monitoring *observability.MonitoringManager, log *slog.Logger) *MessageService {
	return &MessageService{
		messages:   messages,
		channels:   channels,
		users:      users,
		publisher:  publisher,
		monitoring: monitoring,
		log:        log,
	}
}

// Post validates membership, appends the message with a server-assigned
// timestamp, then fans out message.created with the sender's temp id echoed.
// Replays are absorbed by the store: a temp id already consumed returns the
// existing canonical message, and the created event is re-echoed so the
// sender's outbox can still confirm a delivery whose first ack was lost.
func (s *MessageService) Post(cmd domain.SendMessageCommand) (domain.Message, error) {
	channel, err := s.channels.GetByID(cmd.ChannelID)
	if err != nil {
		return domain.Message{}, err
	}
	if !channel.HasParticipant(cmd.SenderID) {
		return domain.Message{}, errors.ErrChannelNotFound
	}

	sender, err := s.users.GetUserByID(cmd.SenderID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("resolving sender: %w", err)
	}

	msg, created, err := s.messages.Append(cmd.ChannelID, cmd.SenderID, sender.DisplayName, cmd.Content, cmd.TempID)
	if err != nil {
		return domain.Message{}, err
	}
	if created {
		s.monitoring.IncrMessagesAppended()
	} else {
		s.log.Debug("Replayed send absorbed",
			"channel_id", cmd.ChannelID, "temp_id", cmd.TempID)
	}

	s.publisher.Publish(event.MessageCreated{Message: msg, TempID: cmd.TempID})
	return msg, nil
}

// List pages through history in ascending (timestamp, id) order.
func (s *MessageService) List(cmd domain.ListMessagesCommand) ([]domain.Message, *string, error) {
	return s.messages.ListSince(cmd.ChannelID, cmd.Cursor, cmd.Limit)
}

// MarkRead grows the read-by sets and relays one read-updated event per
// message that actually changed. Idempotent: re-marking publishes nothing.
func (s *MessageService) MarkRead(cmd domain.MarkReadCommand) ([]domain.Message, error) {
	channel, err := s.channels.GetByID(cmd.ChannelID)
	if err != nil {
		return nil, err
	}
	if !channel.HasParticipant(cmd.ReaderID) {
		return nil, errors.ErrChannelNotFound
	}

	updated, err := s.messages.MarkRead(cmd.ChannelID, cmd.MessageIDs, cmd.ReaderID)
	if err != nil {
		return nil, err
	}

	for _, msg := range updated {
		s.publisher.Publish(event.MessageReadUpdated{
			ChannelID: cmd.ChannelID,
			MessageID: msg.ID.String(),
			ReadBy:    msg.ReadBy,
		})
	}
	return updated, nil
}

// AckReceived relays the lightweight delivery receipt. Not persisted:
// receipt state is ephemeral client truth, unlike the read-by set.
func (s *MessageService) AckReceived(cmd domain.AckReceivedCommand) error {
	channel, err := s.channels.GetByID(cmd.ChannelID)
	if err != nil {
		return err
	}
	if !channel.HasParticipant(cmd.ReceiverID) {
		return errors.ErrChannelNotFound
	}

	at := cmd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.publisher.Publish(event.MessageDelivered{
		ChannelID:  cmd.ChannelID,
		MessageIDs: cmd.MessageIDs,
		ReceiverID: cmd.ReceiverID,
		At:         at,
	})
	return nil
}
