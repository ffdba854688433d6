package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"pairwire/domain"
	"pairwire/errors"
	"pairwire/notify"
	"pairwire/projection"
	"pairwire/transport"
)

// Config tunes the resilience behaviour.
type Config struct {
	ServerURL         string // http(s) base, e.g. http://localhost:8080
	Token             string
	RetryBudget       int           // attempts per message before it turns failed
	AckTimeout        time.Duration // wait for the broker's echo per attempt
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration // initial backoff between dial attempts
	ReconnectCap      time.Duration
	PageSize          int // reconciliation page size
}

func (c *Config) applyDefaults() {
	if c.RetryBudget <= 0 {
		c.RetryBudget = 3
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 500 * time.Millisecond
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
}

// Client keeps one live connection to the broker and absorbs its failures.
// Sends are optimistic through the outbox; reconnects replay the outbox in
// order and reconcile each joined channel's cursor over REST before trusting
// the live stream again. All state lives in the timeline and outbox, so a
// UI reads a consistent view regardless of connection health.
type Client struct {
	log      *slog.Logger
	cfg      Config
	httpc    *http.Client
	timeline *projection.Timeline
	outbox   *Outbox
	notifier notify.Notifier

	mu        sync.Mutex
	ws        *websocket.Conn
	wsWriteMu sync.Mutex
	connected bool
	self      domain.User
	joined    map[domain.ChannelID]struct{}
	online    map[string]struct{}
	delivered map[string]struct{} // message ids the counterpart acknowledged
	acks      map[string]chan error
	kick      chan struct{} // wakes the sender when the outbox grows
}

func New(log *slog.Logger, cfg Config, notifier notify.Notifier) *Client {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = notify.LogNotifier{Log: log}
	}
	return &Client{
		log:       log,
		cfg:       cfg,
		httpc:     &http.Client{Timeout: 15 * time.Second},
		timeline:  projection.NewTimeline(),
		outbox:    NewOutbox(cfg.RetryBudget),
		notifier:  notifier,
		joined:    make(map[domain.ChannelID]struct{}),
		online:    make(map[string]struct{}),
		delivered: make(map[string]struct{}),
		acks:      make(map[string]chan error),
		kick:      make(chan struct{}, 1),
	}
}

// Run drives the connect/session/reconnect cycle until the context ends.
// The dial backoff is exponential and capped; it resets after every
// established session so a long-lived connection is not punished later.
func (c *Client) Run(ctx context.Context) error {
	for {
		ws, welcome, err := c.connect(ctx)
		if err != nil {
			return err
		}
		c.beginSession(ws, welcome)
		c.runSession(ctx, ws)
		c.endSession()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.notifier.Notify(notify.Toast{
			Level: notify.LevelWarn,
			Title: "Connection lost",
			Body:  "reconnecting",
		})
	}
}

// connect dials and authenticates, retrying with capped exponential backoff
// until it succeeds or the context ends.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, transport.WelcomePayload, error) {
	var ws *websocket.Conn
	var welcome transport.WelcomePayload

	backoff := retry.WithCappedDuration(c.cfg.ReconnectCap, retry.NewExponential(c.cfg.ReconnectBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		ws, welcome, err = c.dial(ctx)
		if err != nil {
			if stderrors.Is(err, errors.ErrAuthenticationFailed) {
				return err // credentials won't improve with backoff
			}
			c.log.Debug("Dial attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, transport.WelcomePayload{}, err
	}
	return ws, welcome, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, transport.WelcomePayload, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, transport.WelcomePayload{}, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, transport.WelcomePayload{}, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	authFrame, err := transport.NewFrame(transport.FrameAuth, transport.AuthPayload{Token: c.cfg.Token})
	if err != nil {
		_ = ws.Close()
		return nil, transport.WelcomePayload{}, err
	}
	if err := ws.WriteJSON(authFrame); err != nil {
		_ = ws.Close()
		return nil, transport.WelcomePayload{}, err
	}

	// Only an explicit rejection from the broker is terminal. A socket that
	// dies mid-handshake is indistinguishable from any other network blip and
	// goes back through the backoff loop.
	var frame transport.Frame
	if err := ws.ReadJSON(&frame); err != nil {
		_ = ws.Close()
		return nil, transport.WelcomePayload{}, fmt.Errorf("reading welcome: %w", err)
	}
	if frame.Type == transport.FrameError {
		_ = ws.Close()
		var p transport.ErrorPayload
		if err := frame.Decode(&p); err == nil && p.Code == transport.CodeAuthenticationFailed {
			return nil, transport.WelcomePayload{}, errors.ErrAuthenticationFailed
		}
		return nil, transport.WelcomePayload{}, fmt.Errorf("handshake rejected: %s", frame.Payload)
	}
	if frame.Type != transport.FrameWelcome {
		_ = ws.Close()
		return nil, transport.WelcomePayload{}, fmt.Errorf("unexpected %s frame before welcome", frame.Type)
	}
	var welcome transport.WelcomePayload
	if err := frame.Decode(&welcome); err != nil {
		_ = ws.Close()
		return nil, transport.WelcomePayload{}, err
	}
	return ws, welcome, nil
}

func (c *Client) beginSession(ws *websocket.Conn, welcome transport.WelcomePayload) {
	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.self = domain.User{
		ID:          welcome.UserID,
		DisplayName: welcome.DisplayName,
		Role:        domain.Role(welcome.Role),
	}
	c.online = make(map[string]struct{}, len(welcome.Online))
	for _, id := range welcome.Online {
		c.online[id] = struct{}{}
	}
	c.mu.Unlock()

	c.log.Info("Session established", "user_id", welcome.UserID)
}

// runSession owns one connected period: it re-joins rooms, reconciles
// history, then runs the read pump, sender, and heartbeat until the socket
// dies or the context ends.
func (c *Client) runSession(ctx context.Context, ws *websocket.Conn) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, channelID := range c.joinedChannels() {
		if err := c.sendJoin(channelID); err != nil {
			c.log.Warn("Re-join failed", "channel_id", channelID, "error", err)
		}
		if err := c.Reconcile(sessionCtx, channelID); err != nil {
			c.log.Warn("Reconciliation failed", "channel_id", channelID, "error", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.sendPump(sessionCtx)
	}()
	go func() {
		defer wg.Done()
		c.heartbeat(sessionCtx)
	}()

	c.kickSender()
	c.readPump(ws) // blocks until the socket fails
	cancel()
	wg.Wait()
}

func (c *Client) endSession() {
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.connected = false
	// Pending acks will never arrive on this socket.
	for tempID, ch := range c.acks {
		select {
		case ch <- errors.ErrConnectionClosed:
		default:
		}
		delete(c.acks, tempID)
	}
	c.mu.Unlock()
}

// --- Public API ---

// Self returns the identity confirmed by the last welcome frame.
func (c *Client) Self() domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Connected reports whether a live session is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ResolveChannel finds or creates the channel with the counterpart over REST
// and joins its live room.
func (c *Client) ResolveChannel(ctx context.Context, counterpartID string) (domain.Channel, error) {
	var resp struct {
		ID           string    `json:"id"`
		Participants [2]string `json:"participants"`
		CreatedAt    time.Time `json:"created_at"`
		LastActivity time.Time `json:"last_activity"`
	}
	err := c.postJSON(ctx, "/api/channels/resolve",
		map[string]string{"counterpart_id": counterpartID}, &resp)
	if err != nil {
		return domain.Channel{}, err
	}

	channel := domain.Channel{
		ID:           domain.ChannelID(resp.ID),
		Participants: resp.Participants,
		CreatedAt:    resp.CreatedAt,
		LastActivity: resp.LastActivity,
	}
	if err := c.Join(channel.ID); err != nil {
		c.log.Warn("Live join deferred to next session", "channel_id", channel.ID, "error", err)
	}
	return channel, nil
}

// Join subscribes to a channel's live room. Remembered across reconnects.
func (c *Client) Join(channelID domain.ChannelID) error {
	c.mu.Lock()
	c.joined[channelID] = struct{}{}
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return errors.ErrNotConnected
	}
	return c.sendJoin(channelID)
}

// Leave unsubscribes from a channel's live room and forgets it for future
// reconnects. History stays in the timeline.
func (c *Client) Leave(channelID domain.ChannelID) error {
	c.mu.Lock()
	delete(c.joined, channelID)
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	frame, err := transport.NewFrame(transport.FrameLeaveChannel, transport.LeaveChannelPayload{
		ChannelID: string(channelID),
	})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Send queues a message optimistically and wakes the sender. The returned
// entry is immediately visible with status sending.
func (c *Client) Send(channelID domain.ChannelID, content string) PendingMessage {
	pm := c.outbox.Enqueue(channelID, content)
	c.kickSender()
	return pm
}

// RetryMessage re-arms a failed outbox entry.
func (c *Client) RetryMessage(tempID string) bool {
	ok := c.outbox.Retry(tempID)
	if ok {
		c.kickSender()
	}
	return ok
}

// MarkRead reports the given messages as read by this user.
func (c *Client) MarkRead(channelID domain.ChannelID, messageIDs []string) error {
	frame, err := transport.NewFrame(transport.FrameMarkRead, transport.MarkReadPayload{
		ChannelID:  string(channelID),
		MessageIDs: messageIDs,
	})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Messages returns the channel's reconciled timeline in order.
func (c *Client) Messages(channelID domain.ChannelID) []domain.Message {
	return c.timeline.Messages(channelID)
}

// Pending returns the outbox in send order, failed entries included.
func (c *Client) Pending() []PendingMessage {
	return c.outbox.Pending()
}

// IsOnline reports last-known presence for a user.
func (c *Client) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.online[userID]
	return ok
}

// MessageStatus derives the outgoing lifecycle state of one of this user's
// confirmed messages from the timeline and the delivery receipts.
func (c *Client) MessageStatus(msg domain.Message) Status {
	c.mu.Lock()
	selfID := c.self.ID
	_, isDelivered := c.delivered[msg.ID.String()]
	c.mu.Unlock()

	if msg.SenderID != selfID {
		return ""
	}
	for _, reader := range msg.ReadBy {
		if reader != selfID {
			return StatusRead
		}
	}
	if isDelivered {
		return StatusReceived
	}
	return StatusSent
}

// Reconcile merges history after the channel's stored cursor into the
// timeline, page by page. Called on every reconnect before the live stream
// is trusted; safe to call again any time.
func (c *Client) Reconcile(ctx context.Context, channelID domain.ChannelID) error {
	for {
		cursor := c.timeline.Cursor(channelID)

		path := fmt.Sprintf("/api/channels/%s/messages?limit=%d", channelID, c.cfg.PageSize)
		if cursor != nil {
			path += "&cursor=" + url.QueryEscape(*cursor)
		}

		var resp struct {
			Messages   []transport.MessageDTO `json:"messages"`
			NextCursor *string                `json:"next_cursor,omitempty"`
		}
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return err
		}

		page := make([]domain.Message, 0, len(resp.Messages))
		for _, dto := range resp.Messages {
			msg, err := transport.FromMessageDTO(dto)
			if err != nil {
				return fmt.Errorf("decoding backfill: %w", err)
			}
			page = append(page, msg)
		}
		c.timeline.Merge(channelID, page, resp.NextCursor)

		if resp.NextCursor == nil || len(resp.Messages) == 0 {
			return nil
		}
	}
}

// --- Session internals ---

// sendPump is the single writer draining the outbox: strictly one entry at
// a time, in enqueue order, waiting for the broker's echo before moving on.
// Sequential delivery is what preserves send order across a reconnect.
func (c *Client) sendPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}

		for {
			pm, ok := c.outbox.Next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return
			}
			if err := c.deliver(ctx, pm); err != nil {
				// Socket is gone; stop draining and let the next session's
				// replay pick up where this one left off.
				return
			}
		}
	}
}

// deliver pushes one outbox entry through the socket and waits for the echo.
// A non-nil return means the frame never reached the wire; the entry stays
// queued, its retry budget untouched. Only a frame actually written counts as
// an attempt.
func (c *Client) deliver(ctx context.Context, pm PendingMessage) error {
	frame, err := transport.NewFrame(transport.FrameSendMessage, transport.SendMessagePayload{
		ChannelID: string(pm.ChannelID),
		Content:   pm.Content,
		TempID:    pm.TempID,
	})
	if err != nil {
		c.failMessage(pm.TempID)
		return nil
	}

	ackCh := make(chan error, 1)
	c.mu.Lock()
	c.acks[pm.TempID] = ackCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, pm.TempID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(frame); err != nil {
		return err
	}
	if _, err := c.outbox.RecordAttempt(pm.TempID); err != nil {
		c.failMessage(pm.TempID)
		return nil
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case err := <-ackCh:
		if err != nil && !stderrors.Is(err, errors.ErrConnectionClosed) {
			// The broker rejected the message outright; retrying the same
			// content would fail the same way.
			c.failMessage(pm.TempID)
		}
	case <-timer.C:
		c.log.Debug("Send acknowledgement timed out", "temp_id", pm.TempID)
	}
	return nil
}

func (c *Client) failMessage(tempID string) {
	if pm, ok := c.outbox.Fail(tempID); ok {
		c.notifier.Notify(notify.Toast{
			Level: notify.LevelError,
			Title: "Message failed",
			Body:  pm.Content,
		})
	}
}

func (c *Client) readPump(ws *websocket.Conn) {
	for {
		var frame transport.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame transport.Frame) {
	switch frame.Type {
	case transport.FrameMessageCreated:
		var p transport.MessageCreatedPayload
		if err := frame.Decode(&p); err != nil {
			return
		}
		msg, err := transport.FromMessageDTO(p.Message)
		if err != nil {
			return
		}
		fresh := c.timeline.Apply(msg)
		if p.TempID != "" {
			if _, err := c.outbox.Confirm(p.TempID); err == nil {
				c.resolveAck(p.TempID, nil)
			}
		}
		if !fresh {
			return // duplicate delivery, already absorbed
		}
		if msg.SenderID != c.Self().ID {
			c.ackReceived(msg.ChannelID, []string{msg.ID.String()})
			c.notifier.Notify(notify.Toast{
				Level: notify.LevelInfo,
				Title: fmt.Sprintf("Message from %s", msg.SenderName),
				Body:  msg.Content,
			})
		}

	case transport.FrameMessageReadUpdated:
		var p transport.MessageReadUpdatedPayload
		if err := frame.Decode(&p); err != nil {
			return
		}
		c.timeline.ApplyRead(domain.ChannelID(p.ChannelID), p.MessageID, p.ReadBy)

	case transport.FrameMessageDelivered:
		var p transport.MessageDeliveredPayload
		if err := frame.Decode(&p); err != nil {
			return
		}
		c.mu.Lock()
		if p.ReceiverID != c.self.ID {
			for _, id := range p.MessageIDs {
				c.delivered[id] = struct{}{}
			}
		}
		c.mu.Unlock()

	case transport.FramePresenceChanged:
		var p transport.PresenceChangedPayload
		if err := frame.Decode(&p); err != nil {
			return
		}
		c.mu.Lock()
		if p.IsOnline {
			c.online[p.UserID] = struct{}{}
		} else {
			delete(c.online, p.UserID)
		}
		c.mu.Unlock()

	case transport.FrameJoined:
		// Acknowledgement only; membership is already tracked locally.

	case transport.FrameError:
		var p transport.ErrorPayload
		if err := frame.Decode(&p); err != nil {
			return
		}
		if p.TempID != "" {
			c.resolveAck(p.TempID, fmt.Errorf("%s: %s", p.Code, p.Message))
			return
		}
		c.notifier.Notify(notify.Toast{
			Level: notify.LevelWarn,
			Title: "Server error",
			Body:  p.Message,
		})

	default:
		c.log.Debug("Ignoring unknown frame", "type", frame.Type)
	}
}

func (c *Client) resolveAck(tempID string, err error) {
	c.mu.Lock()
	ch, ok := c.acks[tempID]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- err:
		default:
		}
	}
}

func (c *Client) ackReceived(channelID domain.ChannelID, messageIDs []string) {
	frame, err := transport.NewFrame(transport.FrameAckReceived, transport.AckReceivedPayload{
		ChannelID:  string(channelID),
		MessageIDs: messageIDs,
	})
	if err != nil {
		return
	}
	if err := c.writeFrame(frame); err != nil {
		c.log.Debug("Delivery receipt not sent", "error", err)
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	frame, err := transport.NewFrame(transport.FrameHeartbeat, nil)
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeFrame(frame); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendJoin(channelID domain.ChannelID) error {
	frame, err := transport.NewFrame(transport.FrameJoinChannel, transport.JoinChannelPayload{
		ChannelID: string(channelID),
	})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) joinedChannels() []domain.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChannelID, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}

func (c *Client) kickSender() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) writeFrame(frame transport.Frame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.ErrNotConnected
	}

	c.wsWriteMu.Lock()
	defer c.wsWriteMu.Unlock()
	return ws.WriteJSON(frame)
}

// --- REST helpers ---

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, into any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.ServerURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, into)
}

func (c *Client) getJSON(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.cfg.ServerURL, "/")+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, into)
}

func (c *Client) doJSON(req *http.Request, into any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if into == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// Register creates an account over REST and returns a bearer token.
// Standalone helper: it needs no live connection.
func Register(ctx context.Context, serverURL, email, displayName, role, password string) (string, error) {
	return authCall(ctx, serverURL, "/api/auth/register", map[string]string{
		"email":        email,
		"display_name": displayName,
		"role":         role,
		"password":     password,
	})
}

// Login exchanges credentials for a bearer token.
func Login(ctx context.Context, serverURL, email, password string) (string, error) {
	return authCall(ctx, serverURL, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

func authCall(ctx context.Context, serverURL, path string, body map[string]string) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(serverURL, "/")+path, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return "", fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
