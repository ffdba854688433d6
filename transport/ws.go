package transport

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pairwire/contract"
	"pairwire/domain"
	"pairwire/domain/event"
	"pairwire/errors"
	"pairwire/presence"
	"pairwire/services"
	"pairwire/sink"
)

// WSConfig tunes the per-connection behaviour of the live transport.
type WSConfig struct {
	HandshakeWindow time.Duration // max wait for the auth frame after upgrade
	SinkBufferSize  int
	DeliveryTimeout time.Duration // sink consume budget before an event is dropped
	PingInterval    time.Duration
	WriteTimeout    time.Duration
}

func (c *WSConfig) applyDefaults() {
	if c.HandshakeWindow <= 0 {
		c.HandshakeWindow = 10 * time.Second
	}
	if c.SinkBufferSize <= 0 {
		c.SinkBufferSize = 256
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// WSHandler upgrades HTTP requests into authenticated live connections.
//
// Connection lifecycle: upgrade, then the client's first frame MUST be auth
// inside the handshake window; on success the connection is registered for
// broadcasts, counted into presence, and greeted with a welcome frame. After
// that a write loop drains the connection's sink while the read loop
// dispatches the closed operation set. Any exit path runs the same cleanup.
type WSHandler struct {
	log      *slog.Logger
	auth     services.IAuthService
	channels services.IChannelService
	messages services.IMessageService
	registry contract.IRegistry
	presence *presence.Tracker
	manager  *Manager
	cfg      WSConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(log *slog.Logger, auth services.IAuthService, channels services.IChannelService,
	messages services.IMessageService, registry contract.IRegistry, tracker *presence.Tracker,
	manager *Manager, cfg WSConfig) *WSHandler {
	cfg.applyDefaults()
	return &WSHandler{
		log:      log,
		auth:     auth,
		channels: channels,
		messages: messages,
		registry: registry,
		presence: tracker,
		manager:  manager,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	user, err := h.handshake(ws)
	if err != nil {
		h.log.Info("Handshake rejected", "error", err)
		// Tell the client why before hanging up, so it can tell a terminal
		// credential failure from a transient one and stop or retry accordingly.
		if frame, ferr := NewFrame(FrameError, ErrorPayload{
			Code:    errorCode(err),
			Message: err.Error(),
		}); ferr == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			_ = ws.WriteJSON(frame)
		}
		_ = ws.Close()
		return
	}

	s := sink.NewBufferedSink(h.log, h.cfg.SinkBufferSize, h.cfg.DeliveryTimeout)
	conn := NewConnection(ws, user.ID, s, h.log)

	h.manager.Add(conn)
	h.registry.Register(conn.ID(), s)
	h.presence.Connect(user.ID)

	defer func() {
		h.registry.DropConnection(conn.ID())
		h.presence.Disconnect(user.ID)
		h.manager.Remove(conn.ID())
		conn.Close()
		h.log.Info("Connection closed", "conn_id", conn.ID(), "user_id", user.ID)
	}()

	welcome, err := NewFrame(FrameWelcome, WelcomePayload{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		Online:      h.presence.Snapshot(),
	})
	if err != nil {
		h.log.Error("Encoding welcome frame", "error", err)
		return
	}
	if err := conn.WriteFrame(welcome, h.cfg.WriteTimeout); err != nil {
		return
	}

	h.log.Info("Connection established",
		"conn_id", conn.ID(), "user_id", user.ID, "role", user.Role)

	go h.writeLoop(conn)
	h.readLoop(conn, user)
}

// handshake enforces auth-as-first-frame: nothing else is accepted and the
// socket must produce it within the handshake window.
func (h *WSHandler) handshake(ws *websocket.Conn) (domain.User, error) {
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.HandshakeWindow))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", errors.ErrHandshakeTimeout, err)
	}
	if f.Type != FrameAuth {
		return domain.User{}, errors.ErrAuthenticationFailed
	}
	var payload AuthPayload
	if err := f.Decode(&payload); err != nil {
		return domain.User{}, errors.ErrAuthenticationFailed
	}
	return h.auth.Identify(payload.Token)
}

// writeLoop drains the connection's sink into wire frames and keeps the
// socket alive with pings. It owns the ordering guarantee on this side: the
// sink receives events in per-channel publish order and this loop preserves
// it.
func (h *WSHandler) writeLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.sink.Closed():
			return
		case e := <-conn.sink.Events:
			frame, err := eventToFrame(e)
			if err != nil {
				h.log.Error("Unroutable event", "error", err)
				continue
			}
			if err := conn.WriteFrame(frame, h.cfg.WriteTimeout); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.Ping(h.cfg.WriteTimeout); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(conn *Connection, user domain.User) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Read loop ended", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		conn.UpdateActive()

		if err := h.dispatch(conn, user, frame); err != nil {
			h.log.Debug("Operation failed",
				"conn_id", conn.ID(), "op", frame.Type, "error", err)
		}
	}
}

func (h *WSHandler) dispatch(conn *Connection, user domain.User, frame Frame) error {
	switch frame.Type {
	case FrameHeartbeat:
		return nil

	case FrameJoinChannel:
		var p JoinChannelPayload
		if err := frame.Decode(&p); err != nil {
			return h.sendError(conn, errors.ErrInvalidContent, "")
		}
		channel, err := h.channels.Get(domain.ChannelID(p.ChannelID))
		if err != nil {
			return h.sendError(conn, err, "")
		}
		if !channel.HasParticipant(user.ID) {
			return h.sendError(conn, errors.ErrChannelNotFound, "")
		}
		h.registry.Join(channel.ID, conn.ID(), conn.sink)
		joined, err := NewFrame(FrameJoined, JoinedPayload{ChannelID: string(channel.ID)})
		if err != nil {
			return err
		}
		return conn.WriteFrame(joined, h.cfg.WriteTimeout)

	case FrameLeaveChannel:
		var p LeaveChannelPayload
		if err := frame.Decode(&p); err != nil {
			return h.sendError(conn, errors.ErrInvalidContent, "")
		}
		h.registry.Leave(domain.ChannelID(p.ChannelID), conn.ID())
		return nil

	case FrameSendMessage:
		var p SendMessagePayload
		if err := frame.Decode(&p); err != nil {
			return h.sendError(conn, errors.ErrInvalidContent, "")
		}
		_, err := h.messages.Post(domain.SendMessageCommand{
			ChannelID: domain.ChannelID(p.ChannelID),
			SenderID:  user.ID,
			Content:   p.Content,
			TempID:    p.TempID,
		})
		if err != nil {
			// The temp id rides along so the sender's outbox can mark the
			// right pending entry failed.
			return h.sendError(conn, err, p.TempID)
		}
		return nil

	case FrameMarkRead:
		var p MarkReadPayload
		if err := frame.Decode(&p); err != nil {
			return h.sendError(conn, errors.ErrInvalidContent, "")
		}
		_, err := h.messages.MarkRead(domain.MarkReadCommand{
			ChannelID:  domain.ChannelID(p.ChannelID),
			MessageIDs: p.MessageIDs,
			ReaderID:   user.ID,
		})
		if err != nil {
			return h.sendError(conn, err, "")
		}
		return nil

	case FrameAckReceived:
		var p AckReceivedPayload
		if err := frame.Decode(&p); err != nil {
			return h.sendError(conn, errors.ErrInvalidContent, "")
		}
		err := h.messages.AckReceived(domain.AckReceivedCommand{
			ChannelID:  domain.ChannelID(p.ChannelID),
			MessageIDs: p.MessageIDs,
			ReceiverID: user.ID,
			At:         time.Now().UTC(),
		})
		if err != nil {
			return h.sendError(conn, err, "")
		}
		return nil

	default:
		return h.sendError(conn, fmt.Errorf("unknown operation %q", frame.Type), "")
	}
}

func (h *WSHandler) sendError(conn *Connection, cause error, tempID string) error {
	frame, err := NewFrame(FrameError, ErrorPayload{
		Code:    errorCode(cause),
		Message: cause.Error(),
		TempID:  tempID,
	})
	if err != nil {
		return err
	}
	if werr := conn.WriteFrame(frame, h.cfg.WriteTimeout); werr != nil {
		return werr
	}
	return cause
}

// errorCode maps sentinel failures to stable wire codes clients can switch on.
func errorCode(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrChannelNotFound):
		return CodeChannelNotFound
	case stderrors.Is(err, errors.ErrMessageNotFound):
		return CodeMessageNotFound
	case stderrors.Is(err, errors.ErrInvalidPairing):
		return CodeInvalidPairing
	case stderrors.Is(err, errors.ErrInvalidContent):
		return CodeInvalidContent
	case stderrors.Is(err, errors.ErrAuthenticationFailed):
		return CodeAuthenticationFailed
	default:
		return CodeInternal
	}
}

// eventToFrame is the single point translating domain events to wire frames.
// The switch is exhaustive over the closed event set; a new event variant
// that reaches the default case is a bug, not a protocol feature.
func eventToFrame(e event.DomainEvent) (Frame, error) {
	switch ev := e.(type) {
	case event.MessageCreated:
		return NewFrame(FrameMessageCreated, MessageCreatedPayload{
			Message: ToMessageDTO(ev.Message),
			TempID:  ev.TempID,
		})
	case event.MessageReadUpdated:
		return NewFrame(FrameMessageReadUpdated, MessageReadUpdatedPayload{
			ChannelID: string(ev.ChannelID),
			MessageID: ev.MessageID,
			ReadBy:    ev.ReadBy,
		})
	case event.MessageDelivered:
		return NewFrame(FrameMessageDelivered, MessageDeliveredPayload{
			ChannelID:  string(ev.ChannelID),
			MessageIDs: ev.MessageIDs,
			ReceiverID: ev.ReceiverID,
		})
	case event.PresenceChanged:
		return NewFrame(FramePresenceChanged, PresenceChangedPayload{
			UserID:   ev.UserID,
			IsOnline: ev.IsOnline,
		})
	default:
		return Frame{}, fmt.Errorf("no frame mapping for event %T", e)
	}
}
