package transport

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pairwire/broker"
	"pairwire/domain"
	"pairwire/domain/event"
	"pairwire/mocks"
	"pairwire/presence"
)

func dialAuthed(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	authFrame, err := NewFrame(FrameAuth, AuthPayload{Token: "tok"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(authFrame))

	var welcome Frame
	require.NoError(t, ws.ReadJSON(&welcome))
	require.Equal(t, FrameWelcome, welcome.Type)
	return ws
}

func TestLivenessChecker_ReapsOnlyStaleConnections(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	log := slog.Default()

	authSvc := mocks.NewMockIAuthService(ctrl)
	authSvc.EXPECT().Identify("tok").
		Return(domain.User{ID: "alice", DisplayName: "Alice", Role: domain.RoleCoordinator}, nil).
		AnyTimes()

	registry := broker.NewRegistry(log)
	tracker := presence.NewTracker(make(chan event.DomainEvent, 16), log)
	manager := NewManager()
	handler := NewWSHandler(log, authSvc, mocks.NewMockIChannelService(ctrl),
		mocks.NewMockIMessageService(ctrl), registry, tracker, manager, WSConfig{})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// Two connections for the same user, like two open tabs.
	dialAuthed(t, server.URL)
	dialAuthed(t, server.URL)

	req.Eventually(func() bool { return manager.Count() == 2 },
		time.Second, 10*time.Millisecond)
	req.True(tracker.IsOnline("alice"))

	// Backdate one connection past the timeout; the other keeps its stamp.
	conns := manager.All()
	req.Len(conns, 2)
	conns[0].lastActive.Store(time.Now().Add(-5 * time.Minute).UnixNano())

	checker := NewLivenessChecker(manager, time.Minute, time.Minute, log)
	checker.sweep()

	// The stale socket dies and its handler runs the teardown exactly once.
	req.Eventually(func() bool { return manager.Count() == 1 },
		time.Second, 10*time.Millisecond)
	// The surviving connection keeps the user online.
	req.True(tracker.IsOnline("alice"))

	// Only losing the last connection flips the user offline.
	manager.CloseAll()
	req.Eventually(func() bool { return manager.Count() == 0 && !tracker.IsOnline("alice") },
		time.Second, 10*time.Millisecond)
}
