package transport

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pairwire/auth"
	"pairwire/domain"
	"pairwire/domain/event"
	"pairwire/errors"
	"pairwire/mocks"
	"pairwire/presence"
	"pairwire/services"
)

type apiFixture struct {
	auth     *mocks.MockIAuthService
	channels *mocks.MockIChannelService
	messages *mocks.MockIMessageService
	mux      *http.ServeMux
}

func newAPIFixture(t *testing.T) apiFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	log := slog.Default()
	f := apiFixture{
		auth:     mocks.NewMockIAuthService(ctrl),
		channels: mocks.NewMockIChannelService(ctrl),
		messages: mocks.NewMockIMessageService(ctrl),
	}

	tracker := presence.NewTracker(make(chan event.DomainEvent, 8), log)
	ws := NewWSHandler(log, f.auth, f.channels, f.messages,
		mocks.NewMockIRegistry(ctrl), tracker, NewManager(), WSConfig{})
	f.mux = NewAPI(log, f.auth, f.channels, f.messages, ws).Routes()
	return f
}

func (f apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func bearerFor(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, role, time.Hour)
	require.NoError(t, err)
	return token
}

func TestAPI_Register(t *testing.T) {
	t.Run("should return a token on success", func(t *testing.T) {
		req := require.New(t)
		f := newAPIFixture(t)

		f.auth.EXPECT().Register(gomock.Any()).Return(services.Token("tok"), nil)

		rec := f.do(t, http.MethodPost, "/api/auth/register", "", auth.RegisterRequest{
			Email:       "alice@example.com",
			DisplayName: "Alice",
			Role:        "coordinator",
			Password:    "ComplexPass123!",
		})
		req.Equal(http.StatusCreated, rec.Code)

		var resp registerResponse
		req.NoError(json.NewDecoder(rec.Body).Decode(&resp))
		req.Equal("tok", resp.Token)
	})

	t.Run("should report duplicates as a conflict", func(t *testing.T) {
		req := require.New(t)
		f := newAPIFixture(t)

		f.auth.EXPECT().Register(gomock.Any()).Return(services.Token(""), errors.ErrUserAlreadyExists)

		rec := f.do(t, http.MethodPost, "/api/auth/register", "", auth.RegisterRequest{Email: "dup@example.com"})
		req.Equal(http.StatusConflict, rec.Code)
	})
}

func TestAPI_Login_RejectsBadCredentials(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	f.auth.EXPECT().Login("alice@example.com", "wrong").
		Return(services.Token(""), errors.ErrInvalidCredentials)

	rec := f.do(t, http.MethodPost, "/api/auth/login", "",
		map[string]string{"email": "alice@example.com", "password": "wrong"})
	req.Equal(http.StatusUnauthorized, rec.Code)
}

func TestAPI_ProtectedRoutesRequireBearer(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/channels/resolve", "",
		map[string]string{"counterpart_id": "bob"})
	req.Equal(http.StatusUnauthorized, rec.Code)
}

func TestAPI_ResolveChannel(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	channel := domain.Channel{
		ID:           "chan-1",
		Participants: domain.PairKey("alice", "bob"),
		CreatedAt:    time.Now().UTC(),
	}
	f.channels.EXPECT().Resolve("alice", "bob").Return(channel, nil)

	token := bearerFor(t, "alice", domain.RoleCoordinator)
	rec := f.do(t, http.MethodPost, "/api/channels/resolve", token,
		map[string]string{"counterpart_id": "bob"})
	req.Equal(http.StatusOK, rec.Code)

	var resp channelResponse
	req.NoError(json.NewDecoder(rec.Body).Decode(&resp))
	req.Equal("chan-1", resp.ID)
	req.Equal(channel.Participants, resp.Participants)
}

func TestAPI_ListMessages(t *testing.T) {
	channel := domain.Channel{ID: "chan-1", Participants: domain.PairKey("alice", "bob")}

	t.Run("should page through history", func(t *testing.T) {
		req := require.New(t)
		f := newAPIFixture(t)

		next := "cursor-2"
		msgs := []domain.Message{{
			ID:        uuid.New(),
			ChannelID: channel.ID,
			SenderID:  "bob",
			Content:   "hi",
			CreatedAt: time.Now().UTC(),
		}}

		f.channels.EXPECT().Get(channel.ID).Return(channel, nil)
		f.messages.EXPECT().List(gomock.Any()).
			DoAndReturn(func(cmd domain.ListMessagesCommand) ([]domain.Message, *string, error) {
				req.Equal(channel.ID, cmd.ChannelID)
				req.Equal(10, cmd.Limit)
				req.NotNil(cmd.Cursor)
				req.Equal("cursor-1", *cmd.Cursor)
				return msgs, &next, nil
			})

		token := bearerFor(t, "alice", domain.RoleCoordinator)
		rec := f.do(t, http.MethodGet, "/api/channels/chan-1/messages?limit=10&cursor=cursor-1", token, nil)
		req.Equal(http.StatusOK, rec.Code)

		var resp listMessagesResponse
		req.NoError(json.NewDecoder(rec.Body).Decode(&resp))
		req.Len(resp.Messages, 1)
		req.NotNil(resp.NextCursor)
		req.Equal(next, *resp.NextCursor)
	})

	t.Run("should hide the channel from outsiders", func(t *testing.T) {
		req := require.New(t)
		f := newAPIFixture(t)

		f.channels.EXPECT().Get(channel.ID).Return(channel, nil)

		// Same 404 as a channel that does not exist
		token := bearerFor(t, "mallory", domain.RoleContributor)
		rec := f.do(t, http.MethodGet, "/api/channels/chan-1/messages", token, nil)
		req.Equal(http.StatusNotFound, rec.Code)
	})

	t.Run("should reject a malformed limit", func(t *testing.T) {
		req := require.New(t)
		f := newAPIFixture(t)

		f.channels.EXPECT().Get(channel.ID).Return(channel, nil)

		token := bearerFor(t, "alice", domain.RoleCoordinator)
		rec := f.do(t, http.MethodGet, "/api/channels/chan-1/messages?limit=zero", token, nil)
		req.Equal(http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_PostMessage(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	stored := domain.Message{
		ID:        uuid.New(),
		ChannelID: "chan-1",
		SenderID:  "alice",
		Content:   "hello",
		CreatedAt: time.Now().UTC(),
	}
	f.messages.EXPECT().Post(domain.SendMessageCommand{
		ChannelID: "chan-1",
		SenderID:  "alice",
		Content:   "hello",
		TempID:    "tmp-1",
	}).Return(stored, nil)

	token := bearerFor(t, "alice", domain.RoleCoordinator)
	rec := f.do(t, http.MethodPost, "/api/channels/chan-1/messages", token,
		map[string]string{"content": "hello", "temp_id": "tmp-1"})
	req.Equal(http.StatusCreated, rec.Code)

	var resp MessageDTO
	req.NoError(json.NewDecoder(rec.Body).Decode(&resp))
	req.Equal(stored.ID.String(), resp.ID)
}
