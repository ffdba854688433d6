package transport

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pairwire/auth"
	"pairwire/domain"
	"pairwire/errors"
	"pairwire/services"
)

const defaultPageSize = 50

// API is the REST fallback surface: registration, login, channel resolution,
// and the history/read endpoints a reconnecting client uses to reconcile its
// cursor before resuming the live stream.
type API struct {
	log      *slog.Logger
	auth     services.IAuthService
	channels services.IChannelService
	messages services.IMessageService
	ws       *WSHandler
}

func NewAPI(log *slog.Logger, authSvc services.IAuthService, channels services.IChannelService,
	messages services.IMessageService, ws *WSHandler) *API {
	return &API{
		log:      log,
		auth:     authSvc,
		channels: channels,
		messages: messages,
		ws:       ws,
	}
}

// Routes wires the full HTTP surface onto a mux. Everything below /api except
// auth goes through the bearer middleware.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/channels/resolve", a.handleResolveChannel)
	protected.HandleFunc("GET /api/channels/{id}/messages", a.handleListMessages)
	protected.HandleFunc("POST /api/channels/{id}/messages", a.handlePostMessage)
	protected.HandleFunc("POST /api/channels/{id}/read", a.handleMarkRead)
	mux.Handle("/api/", auth.Middleware(protected))

	mux.Handle("/ws", a.ws)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

type registerResponse struct {
	Token string `json:"token"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := a.auth.Register(req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Token: string(token)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := a.auth.Login(req.Email, req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Token: string(token)})
}

type resolveChannelRequest struct {
	CounterpartID string `json:"counterpart_id"`
}

type channelResponse struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (a *API) handleResolveChannel(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	var req resolveChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	channel, err := a.channels.Resolve(callerID, req.CounterpartID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelResponse{
		ID:           string(channel.ID),
		Participants: channel.Participants,
		CreatedAt:    channel.CreatedAt,
		LastActivity: channel.LastActivity,
	})
}

type listMessagesResponse struct {
	Messages   []MessageDTO `json:"messages"`
	NextCursor *string      `json:"next_cursor,omitempty"`
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	channelID := domain.ChannelID(r.PathValue("id"))

	if !a.authorizeMember(w, channelID, callerID) {
		return
	}

	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = &c
	}
	limit := defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, next, err := a.messages.List(domain.ListMessagesCommand{
		ChannelID: channelID,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{
		Messages:   ToMessageDTOs(msgs),
		NextCursor: next,
	})
}

type postMessageRequest struct {
	Content string `json:"content"`
	TempID  string `json:"temp_id"`
}

func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	channelID := domain.ChannelID(r.PathValue("id"))

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	msg, err := a.messages.Post(domain.SendMessageCommand{
		ChannelID: channelID,
		SenderID:  callerID,
		Content:   req.Content,
		TempID:    req.TempID,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToMessageDTO(msg))
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	channelID := domain.ChannelID(r.PathValue("id"))

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	updated, err := a.messages.MarkRead(domain.MarkReadCommand{
		ChannelID:  channelID,
		MessageIDs: req.MessageIDs,
		ReaderID:   callerID,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{Messages: ToMessageDTOs(updated)})
}

// authorizeMember hides channels from non-participants: a caller outside the
// pair gets the same not-found as a channel that does not exist.
func (a *API) authorizeMember(w http.ResponseWriter, channelID domain.ChannelID, callerID string) bool {
	channel, err := a.channels.Get(channelID)
	if err != nil {
		a.writeServiceError(w, err)
		return false
	}
	if !channel.HasParticipant(callerID) {
		writeError(w, http.StatusNotFound, errors.ErrChannelNotFound.Error())
		return false
	}
	return true
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, errors.ErrChannelNotFound),
		stderrors.Is(err, errors.ErrMessageNotFound),
		stderrors.Is(err, errors.ErrUserNotFound):
		status = http.StatusNotFound
	case stderrors.Is(err, errors.ErrInvalidPairing),
		stderrors.Is(err, errors.ErrInvalidContent),
		stderrors.Is(err, errors.ErrInvalidPassword):
		status = http.StatusBadRequest
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		status = http.StatusConflict
	case stderrors.Is(err, errors.ErrInvalidCredentials),
		stderrors.Is(err, errors.ErrAuthenticationFailed):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		a.log.Error("Request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
