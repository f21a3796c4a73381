package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/infrastructure/config"
	"github.com/nerrad567/periphctl/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeExecute     = "execute"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a message sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client message; the payload is kept raw so an execute
// batch reaches the dispatcher byte for byte.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
// Modules narrows command.executed events to the named modules; empty
// means every module.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Modules  []string `json:"modules,omitempty"`
}

// Hub fans command.executed events out to connected clients. It implements
// dispatch.Observer.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// subscriptions maps a channel to its module filter; a nil filter
	// accepts every module.
	subscriptions map[string][]string
	mu            sync.RWMutex

	// execute runs a batch sent over the socket; nil disables execute.
	execute func(ctx context.Context, id string, body []byte) dispatch.Response

	// ctx ends when the write pump exits, after which nothing drains send.
	ctx    context.Context //nolint:containedctx // lifetime of the connection
	cancel context.CancelFunc
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to channel, ignoring
// module filters.
func (h *Hub) Broadcast(channel string, payload any) {
	h.broadcast(channel, "", payload)
}

// broadcast delivers to clients whose subscription to channel accepts
// moduleName. The hub lock is released before per-client checks so hub and
// client locks are never held together.
func (h *Hub) broadcast(channel, moduleName string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.wants(channel, moduleName) {
			continue
		}
		if client.trySend(data) {
			h.sent.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sent and Dropped count event deliveries; a delivery is dropped when the
// client's buffer is full.
func (h *Hub) Sent() uint64    { return h.sent.Load() }
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// CommandExecuted implements dispatch.Observer.
func (h *Hub) CommandExecuted(_ context.Context, rec dispatch.Record) {
	h.broadcast(dispatch.EventCommandExecuted, rec.Module, dispatch.NewEvent(rec))
}

// handleWebSocket upgrades the connection. The api_key was checked by
// apiKeyMiddleware; clients that cannot set headers pass ?api_key=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string][]string),
		ctx:           ctx,
		cancel:        cancel,
		execute: func(ctx context.Context, id string, body []byte) dispatch.Response {
			return s.dispatcher.Handle(ctx, dispatch.Meta{RequestID: id, Source: SourceWebSocket}, body)
		},
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if c.cancel != nil {
			c.cancel()
		}
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	case WSTypeExecute:
		c.handleExecute(msg)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleExecute runs the payload as a command batch and answers with the
// protocol response. The batch carries its own api_key like any other.
func (c *WSClient) handleExecute(msg wsInbound) {
	if c.execute == nil {
		c.sendError(msg.ID, "execute not available")
		return
	}
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	resp := c.execute(ctx, msg.ID, msg.Payload)

	// The commands already ran, so the reply waits for buffer space instead
	// of being dropped like an event.
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeResponse,
		ID:        msg.ID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   resp,
	})
	if err != nil {
		return
	}
	if !c.sendWait(ctx, data) {
		c.hub.logger.Warn("websocket execute response not delivered", "id", msg.ID)
	}
}

// handleSubscribe adds channels to the client's subscription list.
func (c *WSClient) handleSubscribe(msg wsInbound) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	var filter []string
	if len(sub.Modules) > 0 {
		filter = slices.Clone(sub.Modules)
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = filter
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels, "modules", sub.Modules)

	resp := map[string]any{"subscribed": sub.Channels}
	if filter != nil {
		resp["modules"] = filter
	}
	c.sendResponse(msg.ID, WSTypeResponse, resp)
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg wsInbound) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the client disconnected during a broadcast.
func (c *WSClient) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendWait queues data, blocking until there is room or ctx ends. It
// reports false when the connection went away first.
func (c *WSClient) sendWait(ctx context.Context, data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// wants reports whether the client subscribed to channel with a filter that
// accepts moduleName. An empty moduleName matches any filter.
func (c *WSClient) wants(channel, moduleName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subscriptions[channel]
	if !ok {
		return false
	}
	return filter == nil || moduleName == "" || slices.Contains(filter, moduleName)
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
