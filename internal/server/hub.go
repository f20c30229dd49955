package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// Conn is one client websocket bound to a session.
type Conn struct {
	sessionID   string
	ws          *websocket.Conn
	writeWait   time.Duration
	connectedAt time.Time

	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)

	mu           sync.Mutex
	lastActivity time.Time
}

func newConn(sessionID string, ws *websocket.Conn, writeWait time.Duration) *Conn {
	now := time.Now().UTC()
	return &Conn{
		sessionID:    sessionID,
		ws:           ws,
		writeWait:    writeWait,
		connectedAt:  now,
		lastActivity: now,
	}
}

// Send writes msg as one JSON text frame.
func (c *Conn) Send(msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeWait > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.touch()
	return nil
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Conn) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.ws.Close()
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Hub tracks the connection of every session and routes outbound messages
// to it. It implements browseflow.EventSink.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, conns: make(map[string]*Conn)}
}

// register binds c to its session, replacing and closing any previous
// connection for the same session.
func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	old := h.conns[c.sessionID]
	h.conns[c.sessionID] = c
	h.mu.Unlock()
	if old != nil {
		h.logger.Info("replacing session connection", slog.String("session_id", c.sessionID))
		old.close()
	}
}

// unregister removes c if it is still the session's connection.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if h.conns[c.sessionID] == c {
		delete(h.conns, c.sessionID)
	}
	h.mu.Unlock()
}

// Emit implements browseflow.EventSink. Messages for sessions without a
// connection are dropped.
func (h *Hub) Emit(_ context.Context, msg message.Message) error {
	h.mu.RLock()
	c := h.conns[msg.SessionID]
	h.mu.RUnlock()
	if c == nil {
		h.logger.Debug("no connection for message",
			slog.String("session_id", msg.SessionID),
			slog.String("type", string(msg.Type)),
		)
		return nil
	}
	return c.Send(msg)
}

// Broadcast sends msg to every connected session except those in exclude.
func (h *Hub) Broadcast(msg message.Message, exclude ...string) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for id, c := range h.conns {
		if !skip[id] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		m := msg
		m.SessionID = c.sessionID
		if err := c.Send(m); err != nil {
			h.logger.Debug("broadcast failed", slog.String("session_id", c.sessionID), slog.String("error", err.Error()))
		}
	}
}

// Sessions returns the connected sessions.
func (h *Hub) Sessions() map[string]SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]SessionInfo, len(h.conns))
	for id, c := range h.conns {
		c.mu.Lock()
		out[id] = SessionInfo{ConnectedAt: c.connectedAt, LastActivity: c.lastActivity}
		c.mu.Unlock()
	}
	return out
}

// CloseAll tells every session the server is going away, then closes
// their connections.
func (h *Hub) CloseAll() {
	h.Broadcast(message.NewSystemEvent("", message.EventServerShutdown, nil, message.SeverityWarning))
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
