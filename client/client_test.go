package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pairwire/domain"
	"pairwire/errors"
	"pairwire/notify"
	"pairwire/transport"
)

func newTestClient(t *testing.T) (*Client, *notify.FeedNotifier) {
	t.Helper()
	feed := notify.NewFeedNotifier(16)
	c := New(slog.Default(), Config{ServerURL: "http://localhost:0", Token: "t"}, feed)
	c.self = domain.User{ID: "alice", DisplayName: "Alice", Role: domain.RoleCoordinator}
	return c, feed
}

func inbound(channelID domain.ChannelID, senderID, content string) domain.Message {
	return domain.Message{
		ID:         uuid.New(),
		ChannelID:  channelID,
		SenderID:   senderID,
		SenderName: senderID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		ReadBy:     []string{senderID},
	}
}

func createdFrame(t *testing.T, msg domain.Message, tempID string) transport.Frame {
	t.Helper()
	frame, err := transport.NewFrame(transport.FrameMessageCreated, transport.MessageCreatedPayload{
		Message: transport.ToMessageDTO(msg),
		TempID:  tempID,
	})
	require.NoError(t, err)
	return frame
}

func TestClient_DuplicateCreatedFrameAbsorbed(t *testing.T) {
	req := require.New(t)
	c, feed := newTestClient(t)

	msg := inbound("chan-1", "bob", "hello")
	frame := createdFrame(t, msg, "")

	c.handleFrame(frame)
	c.handleFrame(frame) // redelivered after a reconnect

	req.Len(c.Messages("chan-1"), 1)
	// Only the first delivery surfaces to the user
	req.Len(feed.Feed(), 1)
}

func TestClient_CreatedFrameConfirmsOutbox(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	pm := c.Send("chan-1", "hello")
	req.Len(c.Pending(), 1)

	msg := inbound("chan-1", "alice", "hello")
	c.handleFrame(createdFrame(t, msg, pm.TempID))

	req.Empty(c.Pending())
	req.Len(c.Messages("chan-1"), 1)
	req.Equal(StatusSent, c.MessageStatus(msg))
}

func TestClient_DeliveredFrameUpgradesStatus(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	msg := inbound("chan-1", "alice", "hello")
	c.handleFrame(createdFrame(t, msg, ""))
	req.Equal(StatusSent, c.MessageStatus(msg))

	frame, err := transport.NewFrame(transport.FrameMessageDelivered, transport.MessageDeliveredPayload{
		ChannelID:  "chan-1",
		MessageIDs: []string{msg.ID.String()},
		ReceiverID: "bob",
	})
	req.NoError(err)
	c.handleFrame(frame)

	req.Equal(StatusReceived, c.MessageStatus(msg))
}

func TestClient_OwnReceiptDoesNotUpgradeStatus(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	msg := inbound("chan-1", "alice", "hello")
	c.handleFrame(createdFrame(t, msg, ""))

	// An echo of this user's own receipt must not count as the counterpart's
	frame, err := transport.NewFrame(transport.FrameMessageDelivered, transport.MessageDeliveredPayload{
		ChannelID:  "chan-1",
		MessageIDs: []string{msg.ID.String()},
		ReceiverID: "alice",
	})
	req.NoError(err)
	c.handleFrame(frame)

	req.Equal(StatusSent, c.MessageStatus(msg))
}

func TestClient_ReadUpdateWinsOverDelivery(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	msg := inbound("chan-1", "alice", "hello")
	c.handleFrame(createdFrame(t, msg, ""))

	frame, err := transport.NewFrame(transport.FrameMessageReadUpdated, transport.MessageReadUpdatedPayload{
		ChannelID: "chan-1",
		MessageID: msg.ID.String(),
		ReadBy:    []string{"alice", "bob"},
	})
	req.NoError(err)
	c.handleFrame(frame)

	updated, ok := c.timeline.Get("chan-1", msg.ID.String())
	req.True(ok)
	req.Equal(StatusRead, c.MessageStatus(updated))
}

func TestClient_MessageStatusOnlyForOwnMessages(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	theirs := inbound("chan-1", "bob", "hi")
	req.Equal(Status(""), c.MessageStatus(theirs))
}

func TestClient_PresenceFrames(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	online, err := transport.NewFrame(transport.FramePresenceChanged, transport.PresenceChangedPayload{
		UserID: "bob", IsOnline: true,
	})
	req.NoError(err)
	c.handleFrame(online)
	req.True(c.IsOnline("bob"))

	offline, err := transport.NewFrame(transport.FramePresenceChanged, transport.PresenceChangedPayload{
		UserID: "bob", IsOnline: false,
	})
	req.NoError(err)
	c.handleFrame(offline)
	req.False(c.IsOnline("bob"))
}

func TestClient_WriteFailureDoesNotChargeBudget(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	pm := c.Send("chan-1", "hello")

	// No live socket: the frame never reaches the wire, so the entry keeps
	// its full budget and waits for the next session's replay.
	err := c.deliver(context.Background(), pm)
	req.ErrorIs(err, errors.ErrNotConnected)

	pending := c.Pending()
	req.Len(pending, 1)
	req.Equal(StatusSending, pending[0].Status)
	req.Zero(pending[0].Attempts)
}

// dialTestClient points a client at a handshake scripted by the handler.
func dialTestClient(t *testing.T, handler func(ws *websocket.Conn)) *Client {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		handler(ws)
	}))
	t.Cleanup(server.Close)
	return New(slog.Default(), Config{ServerURL: server.URL, Token: "t"}, notify.NewFeedNotifier(4))
}

func TestClient_Dial(t *testing.T) {
	t.Run("should treat a dropped handshake as retryable", func(t *testing.T) {
		req := require.New(t)
		c := dialTestClient(t, func(ws *websocket.Conn) {
			var f transport.Frame
			_ = ws.ReadJSON(&f)
			// Hang up without answering, like a broker dying mid-handshake
		})

		_, _, err := c.dial(context.Background())
		req.Error(err)
		req.NotErrorIs(err, errors.ErrAuthenticationFailed)
	})

	t.Run("should stop on an explicit credential rejection", func(t *testing.T) {
		req := require.New(t)
		c := dialTestClient(t, func(ws *websocket.Conn) {
			var f transport.Frame
			_ = ws.ReadJSON(&f)
			reject, _ := transport.NewFrame(transport.FrameError, transport.ErrorPayload{
				Code:    transport.CodeAuthenticationFailed,
				Message: "authentication failed",
			})
			_ = ws.WriteJSON(reject)
		})

		_, _, err := c.dial(context.Background())
		req.ErrorIs(err, errors.ErrAuthenticationFailed)
	})
}

func TestClient_ErrorFrameResolvesPendingAck(t *testing.T) {
	req := require.New(t)
	c, _ := newTestClient(t)

	ackCh := make(chan error, 1)
	c.mu.Lock()
	c.acks["tmp-1"] = ackCh
	c.mu.Unlock()

	frame, err := transport.NewFrame(transport.FrameError, transport.ErrorPayload{
		Code:    "invalid_content",
		Message: "message content is invalid",
		TempID:  "tmp-1",
	})
	req.NoError(err)
	c.handleFrame(frame)

	select {
	case ackErr := <-ackCh:
		req.ErrorContains(ackErr, "invalid_content")
	default:
		req.Fail("expected the pending ack to be resolved")
	}
}
