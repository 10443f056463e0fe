package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/autoform/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	// resumeTimeout bounds loading the checkpoint for a submission.
	resumeTimeout = 15 * time.Second
)

// Client message types.
const (
	msgSubscribe         = "subscribe"
	msgUnsubscribe       = "unsubscribe"
	msgStartWorkflow     = "start_workflow"
	msgOTPSubmit         = "otp_submit"
	msgCaptchaSubmit     = "captcha_submit"
	msgCustomInputSubmit = "custom_input_submit"
	msgPauseWorkflow     = "pause_workflow"
	msgResumeWorkflow    = "resume_workflow"
	msgPing              = "ping"
)

// WSMessage is a client-to-server message.
type WSMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type submission struct {
	OTP      string `json:"otp"`
	Solution string `json:"solution"`
	FieldID  string `json:"field_id"`
	Value    string `json:"value"`
}

// WSHandler manages WebSocket connections.
type WSHandler struct {
	upgrader    websocket.Upgrader
	publisher   events.Publisher
	connections map[*websocket.Conn]*wsConnection
	mu          sync.RWMutex
	logger      *slog.Logger
	server      *Server
}

// wsConnection tracks a single WebSocket connection.
type wsConnection struct {
	conn         *websocket.Conn
	mu           sync.Mutex // protects sessionID, eventChan, unsubscribed
	sessionID    string
	eventChan    <-chan events.Event
	send         chan []byte
	done         chan struct{}
	unsubscribed bool
}

// NewWSHandler creates a new WebSocket handler. An empty origin list accepts
// any origin.
func NewWSHandler(pub events.Publisher, server *Server, origins []string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return len(origins) == 0 || slices.Contains(origins, r.Header.Get("Origin"))
			},
		},
		publisher:   pub,
		connections: make(map[*websocket.Conn]*wsConnection),
		logger:      logger,
		server:      server,
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConnection{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.connections[conn] = c
	h.mu.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		h.handleMessage(c, message)
	}
}

func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			// One frame per message so each frame is a complete JSON document.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleMessage(c *wsConnection, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid message format")
		return
	}
	if msg.SessionID == "" {
		msg.SessionID = c.currentSession()
	}

	switch msg.Type {
	case msgSubscribe:
		h.handleSubscribe(c, msg.SessionID)
	case msgUnsubscribe:
		h.handleUnsubscribe(c)
	case msgStartWorkflow:
		h.handleStart(c, msg)
	case msgOTPSubmit, msgCaptchaSubmit, msgCustomInputSubmit, msgResumeWorkflow:
		h.handleSubmission(c, msg)
	case msgPauseWorkflow:
		h.handlePause(c, msg.SessionID)
	case msgPing:
		h.sendJSON(c, map[string]any{"type": "pong"})
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe subscribes the connection to a session's events.
// Use "*" to receive every session's events.
func (h *WSHandler) handleSubscribe(c *wsConnection, sessionID string) {
	if sessionID == "" {
		h.sendError(c, "session_id required for subscribe (use \"*\" for all sessions)")
		return
	}

	h.handleUnsubscribe(c)

	c.mu.Lock()
	c.sessionID = sessionID
	c.eventChan = h.publisher.Subscribe(sessionID)
	c.unsubscribed = false
	c.mu.Unlock()

	go h.forwardEvents(c)

	h.sendJSON(c, map[string]any{"type": "subscribed", "session_id": sessionID})
	h.logger.Debug("websocket subscribed", "session", sessionID)
}

func (h *WSHandler) handleUnsubscribe(c *wsConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != "" && c.eventChan != nil && !c.unsubscribed {
		h.publisher.Unsubscribe(c.sessionID, c.eventChan)
		c.unsubscribed = true
		c.sessionID = ""
		c.eventChan = nil
	}
}

// handleStart launches a session and subscribes the connection to it before
// the first event can be published.
func (h *WSHandler) handleStart(c *wsConnection, msg WSMessage) {
	var req StartSessionRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			h.sendError(c, "invalid start_workflow data")
			return
		}
	}
	if req.SessionID == "" && msg.SessionID != "" && msg.SessionID != events.GlobalSessionID {
		req.SessionID = msg.SessionID
	}

	id, err := h.server.startSessionWith(req, func(id string) { h.handleSubscribe(c, id) })
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.sendJSON(c, map[string]any{"type": "workflow_started", "session_id": id})
}

// handleSubmission routes a human reply (or a bare resume) to the manager.
func (h *WSHandler) handleSubmission(c *wsConnection, msg WSMessage) {
	if msg.SessionID == "" || msg.SessionID == events.GlobalSessionID {
		h.sendError(c, "session_id required for "+msg.Type)
		return
	}
	var sub submission
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &sub); err != nil {
			h.sendError(c, "invalid "+msg.Type+" data")
			return
		}
	}

	var value, fieldID string
	switch msg.Type {
	case msgOTPSubmit:
		value = sub.OTP
	case msgCaptchaSubmit:
		value = sub.Solution
	case msgCustomInputSubmit:
		value, fieldID = sub.Value, sub.FieldID
	}

	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()
	if _, err := h.server.manager.Resume(ctx, msg.SessionID, value, fieldID); err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.sendJSON(c, map[string]any{"type": "ack", "action": msg.Type, "session_id": msg.SessionID})
}

func (h *WSHandler) handlePause(c *wsConnection, sessionID string) {
	if err := h.server.manager.Cancel(sessionID); err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.sendJSON(c, map[string]any{"type": "ack", "action": msgPauseWorkflow, "session_id": sessionID})
}

// forwardEvents relays published events as {type, session_id, data, time}.
func (h *WSHandler) forwardEvents(c *wsConnection) {
	c.mu.Lock()
	eventChan := c.eventChan
	c.mu.Unlock()

	if eventChan == nil {
		return
	}

	for {
		select {
		case <-c.done:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			c.mu.Lock()
			unsubscribed := c.unsubscribed
			c.mu.Unlock()
			if unsubscribed {
				return
			}
			h.sendJSON(c, event)
		}
	}
}

func (c *wsConnection) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (h *WSHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	if _, exists := h.connections[c.conn]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.connections, c.conn)
	h.mu.Unlock()

	h.handleUnsubscribe(c)
	close(c.done)
	_ = c.conn.Close()
}

func (h *WSHandler) sendJSON(c *wsConnection, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal JSON", "error", err)
		return
	}

	select {
	case c.send <- msg:
	default:
		h.logger.Warn("websocket send buffer full, dropping message")
	}
}

func (h *WSHandler) sendError(c *wsConnection, message string) {
	h.sendJSON(c, map[string]any{"type": "error", "error": message})
}

// ConnectionCount returns the number of active connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close closes all connections.
func (h *WSHandler) Close() {
	h.mu.Lock()
	conns := make([]*wsConnection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.closeConnection(c)
	}
}
