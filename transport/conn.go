package transport

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairwire/sink"
)

// Connection is one authenticated client socket: the websocket itself, its
// buffered event sink, and the liveness bookkeeping. Ephemeral by design —
// created after handshake auth, destroyed on disconnect, never persisted.
type Connection struct {
	id         string
	userID     string
	ws         *websocket.Conn
	sink       *sink.BufferedSink
	lastActive atomic.Int64 // unix nanos
	writeMu    sync.Mutex
	closeOnce  sync.Once
	log        *slog.Logger
}

func NewConnection(ws *websocket.Conn, userID string, s *sink.BufferedSink, log *slog.Logger) *Connection {
	c := &Connection{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		sink:   s,
		log:    log,
	}
	c.UpdateActive()
	return c
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

func (c *Connection) UpdateActive() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// WriteFrame serializes writes: the event loop and read-loop replies share
// the socket, and gorilla allows a single concurrent writer.
func (c *Connection) WriteFrame(f Frame, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.ws.WriteJSON(f)
}

func (c *Connection) ReadFrame() (Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *Connection) Ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Close tears the socket down and unblocks both loops. Idempotent: the read
// loop, the liveness checker, and explicit disconnects may all race here.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.sink.Close()
		_ = c.ws.Close()
	})
}

// Manager tracks all live connections for the liveness checker and for
// shutdown. Room membership lives in the broker registry, not here.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewManager() *Manager {
	return &Manager{conns: make(map[string]*Connection)}
}

func (m *Manager) Add(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID()] = c
}

func (m *Manager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

func (m *Manager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll is the shutdown path: every connection gets the same cleanup as
// an explicit disconnect.
func (m *Manager) CloseAll() {
	for _, c := range m.All() {
		c.Close()
	}
}
