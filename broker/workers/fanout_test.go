package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pairwire/contract"
	"pairwire/domain"
	"pairwire/domain/event"
	"pairwire/mocks"
)

func TestEventFanout_ChannelEventGoesToRoom(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRegistry := mocks.NewMockIRegistry(ctrl)
	mockPermanent := mocks.NewMockEventSink(ctrl)

	channelID := domain.ChannelID("chan-1")
	evt := event.MessageCreated{Message: domain.Message{ChannelID: channelID}}

	// Permanent sinks see everything; the room gets the channel event
	mockPermanent.EXPECT().Consume(gomock.Any(), evt).Return(nil).Times(1)
	mockRegistry.EXPECT().PublishToChannel(gomock.Any(), channelID, evt).Times(1)

	fanout := NewEventFanout(slog.Default(), mockRegistry, nil,
		[]contract.EventSink{mockPermanent})
	fanout.Fanout(context.Background(), evt)
}

func TestEventFanout_GlobalEventIsBroadcast(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRegistry := mocks.NewMockIRegistry(ctrl)

	evt := event.PresenceChanged{UserID: "alice", IsOnline: true}
	mockRegistry.EXPECT().Broadcast(gomock.Any(), evt).Times(1)

	fanout := NewEventFanout(slog.Default(), mockRegistry, nil, nil)
	fanout.Fanout(context.Background(), evt)
}

func TestEventFanout_DrainsInOrder(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRegistry := mocks.NewMockIRegistry(ctrl)

	channelID := domain.ChannelID("chan-1")
	events := make(chan event.DomainEvent, 3)

	var delivered []string
	done := make(chan struct{})
	mockRegistry.EXPECT().
		PublishToChannel(gomock.Any(), channelID, gomock.Any()).
		Do(func(_ context.Context, _ domain.ChannelID, e event.DomainEvent) {
			delivered = append(delivered, e.(event.MessageReadUpdated).MessageID)
			if len(delivered) == 3 {
				close(done)
			}
		}).
		Times(3)

	fanout := NewEventFanout(slog.Default(), mockRegistry, events, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fanout.Run(ctx) }()

	for _, id := range []string{"m1", "m2", "m3"} {
		events <- event.MessageReadUpdated{ChannelID: channelID, MessageID: id}
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		req.Fail("fanout did not drain the channel in time")
	}
	req.Equal([]string{"m1", "m2", "m3"}, delivered)
}
