package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/mcpgate/internal/logging"
)

// Conn is one live webchat WebSocket session for a user.
type Conn struct {
	UserID      string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded WebSocket connection for a user.
func NewConn(userID string, socket *websocket.Conn) *Conn {
	return &Conn{UserID: userID, Socket: socket, ConnectedAt: time.Now()}
}

// Send writes a JSON payload to the session. Thread-safe.
func (c *Conn) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.Socket.WriteJSON(payload)
}

// Close closes the underlying socket. Safe to call twice.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ConnManager tracks the live session per user. A user reconnecting
// replaces their previous session.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Conn // userID → Conn
	log   *logging.Logger
}

// NewConnManager creates an empty connection manager.
func NewConnManager(log *logging.Logger) *ConnManager {
	return &ConnManager{conns: make(map[string]*Conn), log: log}
}

// Add registers a session, closing any previous session for the user.
func (m *ConnManager) Add(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.conns[c.UserID]; ok {
		prev.Close()
	}
	m.conns[c.UserID] = c
	m.log.Info().Str("user", c.UserID).Msg("webchat client connected")
}

// Remove unregisters a user's session if it is still the given one.
func (m *ConnManager) Remove(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.conns[c.UserID]; ok && current == c {
		delete(m.conns, c.UserID)
		m.log.Info().Str("user", c.UserID).Msg("webchat client disconnected")
	}
}

// Get returns the live session for a user.
func (m *ConnManager) Get(userID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[userID]
	return c, ok
}

// Count returns the number of live sessions.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CloseAll closes every live session.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conns {
		c.Close()
		delete(m.conns, id)
	}
}
