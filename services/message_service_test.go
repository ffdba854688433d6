package services_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pairwire/domain"
	"pairwire/domain/event"
	"pairwire/errors"
	"pairwire/mocks"
	"pairwire/observability"
	"pairwire/services"
	"pairwire/storage"
)

type messageServiceFixture struct {
	messages *mocks.MockIMessageRepository
	channels *mocks.MockIChannelRepository
	users    *mocks.MockIUserRepository
	pub      *mocks.MockIPublisher
	svc      *services.MessageService
}

func newMessageServiceFixture(t *testing.T) messageServiceFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := messageServiceFixture{
		messages: mocks.NewMockIMessageRepository(ctrl),
		channels: mocks.NewMockIChannelRepository(ctrl),
		users:    mocks.NewMockIUserRepository(ctrl),
		pub:      mocks.NewMockIPublisher(ctrl),
	}
	f.svc = services.NewMessageService(f.messages, f.channels, f.users, f.pub,
		observability.NewMonitoringManager(), slog.Default())
	return f
}

var testChannel = domain.Channel{
	ID:           "chan-1",
	Participants: domain.PairKey("alice", "bob"),
}

func TestMessageService_Post(t *testing.T) {
	t.Run("should persist then publish with the temp id echoed", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		stored := domain.Message{
			ID:        uuid.New(),
			ChannelID: testChannel.ID,
			SenderID:  "alice",
			Content:   "hello",
			CreatedAt: time.Now().UTC(),
		}

		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		f.users.EXPECT().GetUserByID("alice").
			Return(storage.UserRecord{ID: "alice", DisplayName: "Alice"}, nil)
		f.messages.EXPECT().
			Append(testChannel.ID, "alice", "Alice", "hello", "tmp-1").
			Return(stored, true, nil)
		f.pub.EXPECT().
			Publish(event.MessageCreated{Message: stored, TempID: "tmp-1"}).
			Times(1)

		msg, err := f.svc.Post(domain.SendMessageCommand{
			ChannelID: testChannel.ID,
			SenderID:  "alice",
			Content:   "hello",
			TempID:    "tmp-1",
		})
		req.NoError(err)
		req.Equal(stored, msg)
	})

	t.Run("should re-echo the created event for a replayed send", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		stored := domain.Message{
			ID:        uuid.New(),
			ChannelID: testChannel.ID,
			SenderID:  "alice",
			Content:   "hello",
			CreatedAt: time.Now().UTC(),
		}

		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		f.users.EXPECT().GetUserByID("alice").
			Return(storage.UserRecord{ID: "alice", DisplayName: "Alice"}, nil)
		f.messages.EXPECT().
			Append(testChannel.ID, "alice", "Alice", "hello", "tmp-1").
			Return(stored, false, nil)
		// The duplicate still publishes so the sender's pending entry resolves
		f.pub.EXPECT().
			Publish(event.MessageCreated{Message: stored, TempID: "tmp-1"}).
			Times(1)

		msg, err := f.svc.Post(domain.SendMessageCommand{
			ChannelID: testChannel.ID,
			SenderID:  "alice",
			Content:   "hello",
			TempID:    "tmp-1",
		})
		req.NoError(err)
		req.Equal(stored.ID, msg.ID)
	})

	t.Run("should hide the channel from non-participants", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		// Neither append nor publish must happen
		f.pub.EXPECT().Publish(gomock.Any()).Times(0)

		_, err := f.svc.Post(domain.SendMessageCommand{
			ChannelID: testChannel.ID,
			SenderID:  "mallory",
			Content:   "hello",
		})
		req.ErrorIs(err, errors.ErrChannelNotFound)
	})

	t.Run("should publish nothing when the append fails", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		f.users.EXPECT().GetUserByID("alice").
			Return(storage.UserRecord{ID: "alice", DisplayName: "Alice"}, nil)
		f.messages.EXPECT().
			Append(testChannel.ID, "alice", "Alice", "", "").
			Return(domain.Message{}, false, errors.ErrInvalidContent)
		f.pub.EXPECT().Publish(gomock.Any()).Times(0)

		_, err := f.svc.Post(domain.SendMessageCommand{
			ChannelID: testChannel.ID,
			SenderID:  "alice",
			Content:   "",
		})
		req.ErrorIs(err, errors.ErrInvalidContent)
	})
}

func TestMessageService_MarkRead(t *testing.T) {
	t.Run("should publish one event per changed message", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		changed := []domain.Message{
			{ID: uuid.New(), ChannelID: testChannel.ID, ReadBy: []string{"alice", "bob"}},
			{ID: uuid.New(), ChannelID: testChannel.ID, ReadBy: []string{"alice", "bob"}},
		}
		ids := []string{changed[0].ID.String(), changed[1].ID.String()}

		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		f.messages.EXPECT().
			MarkRead(testChannel.ID, ids, "bob").
			Return(changed, nil)
		for _, msg := range changed {
			f.pub.EXPECT().Publish(event.MessageReadUpdated{
				ChannelID: testChannel.ID,
				MessageID: msg.ID.String(),
				ReadBy:    msg.ReadBy,
			}).Times(1)
		}

		updated, err := f.svc.MarkRead(domain.MarkReadCommand{
			ChannelID:  testChannel.ID,
			MessageIDs: ids,
			ReaderID:   "bob",
		})
		req.NoError(err)
		req.Len(updated, 2)
	})

	t.Run("should stay silent when nothing changed", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		f.messages.EXPECT().
			MarkRead(testChannel.ID, []string{"m1"}, "bob").
			Return(nil, nil)
		f.pub.EXPECT().Publish(gomock.Any()).Times(0)

		updated, err := f.svc.MarkRead(domain.MarkReadCommand{
			ChannelID:  testChannel.ID,
			MessageIDs: []string{"m1"},
			ReaderID:   "bob",
		})
		req.NoError(err)
		req.Empty(updated)
	})
}

func TestMessageService_AckReceived(t *testing.T) {
	t.Run("should relay the receipt without persisting", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		at := time.Now().UTC()
		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		f.pub.EXPECT().Publish(event.MessageDelivered{
			ChannelID:  testChannel.ID,
			MessageIDs: []string{"m1"},
			ReceiverID: "bob",
			At:         at,
		}).Times(1)

		err := f.svc.AckReceived(domain.AckReceivedCommand{
			ChannelID:  testChannel.ID,
			MessageIDs: []string{"m1"},
			ReceiverID: "bob",
			At:         at,
		})
		req.NoError(err)
	})

	t.Run("should reject outsiders", func(t *testing.T) {
		req := require.New(t)
		f := newMessageServiceFixture(t)

		f.channels.EXPECT().GetByID(testChannel.ID).Return(testChannel, nil)
		f.pub.EXPECT().Publish(gomock.Any()).Times(0)

		err := f.svc.AckReceived(domain.AckReceivedCommand{
			ChannelID:  testChannel.ID,
			MessageIDs: []string{"m1"},
			ReceiverID: "mallory",
		})
		req.ErrorIs(err, errors.ErrChannelNotFound)
	})
}

func TestMessageService_List(t *testing.T) {
	req := require.New(t)
	f := newMessageServiceFixture(t)

	page := []domain.Message{{ID: uuid.New(), ChannelID: testChannel.ID}}
	cursor := "next"
	f.messages.EXPECT().
		ListSince(testChannel.ID, nil, 50).
		Return(page, &cursor, nil)

	msgs, next, err := f.svc.List(domain.ListMessagesCommand{ChannelID: testChannel.ID, Limit: 50})
	req.NoError(err)
	req.Equal(page, msgs)
	req.Equal("next", *next)
}
