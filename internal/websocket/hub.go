package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/walker"
)

// Maximum message size allowed from a client.
const maxMessageSize = 512

// Client is one connected event consumer.
type Client struct {
	ID          string
	conn        *websocket.Conn
	send        chan Event
	connectedAt time.Time

	mu           sync.Mutex
	subscription *SubscriptionRequest
}

func (c *Client) setSubscription(sub *SubscriptionRequest) {
	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
}

// wants reports whether the client's subscription covers an event type.
// No subscription means everything.
func (c *Client) wants(t EventType) bool {
	c.mu.Lock()
	sub := c.subscription
	c.mu.Unlock()

	if sub == nil {
		return true
	}
	for _, et := range sub.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Hub maintains the set of connected clients and fans processing events
// out to them. Disabled event types are dropped before they reach the
// queue; a slow client is disconnected rather than allowed to stall the
// rest.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *zap.Logger

	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	stats Stats

	upgrader websocket.Upgrader
}

// NewHub creates an event hub. Run must be started before clients can
// connect.
func NewHub(cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.allowOrigin,
	}
	return h
}

func (h *Hub) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Run owns the client set until the context ends. Start it once, in its
// own goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting event hub", zap.String("path", h.cfg.Path))
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case event := <-h.broadcast:
			h.fanOut(event)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections = len(h.clients)
	active := h.stats.ActiveConnections
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.Int("active_connections", active),
	)

	if h.cfg.Events.BroadcastConnections {
		h.fanOut(Event{
			Type:      EventTypeConnection,
			Timestamp: time.Now(),
			Data:      ConnectionEvent{Action: "connected", ClientID: client.ID},
		}, client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
		h.stats.ActiveConnections = len(h.clients)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.logger.Info("Client disconnected", zap.String("client_id", client.ID))

	if h.cfg.Events.BroadcastConnections {
		h.fanOut(Event{
			Type:      EventTypeConnection,
			Timestamp: time.Now(),
			Data:      ConnectionEvent{Action: "disconnected", ClientID: client.ID},
		})
	}
}

// fanOut delivers an event to every connected client except the ones
// listed. Clients whose send buffer is full are dropped on the spot.
func (h *Hub) fanOut(event Event, except ...*Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalBroadcasts++
	for client := range h.clients {
		if len(except) > 0 && client == except[0] {
			continue
		}
		if !client.wants(event.Type) {
			continue
		}
		select {
		case client.send <- event:
		default:
			delete(h.clients, client)
			close(client.send)
			h.stats.ActiveConnections = len(h.clients)
			h.logger.Warn("Client send buffer full, disconnecting",
				zap.String("client_id", client.ID),
			)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.stats.ActiveConnections = 0
	h.logger.Info("Event hub stopped")
}

// BroadcastEvent queues an event for all connected clients. Disabled
// event types are discarded; a full queue drops the event with a warning
// instead of blocking the caller.
func (h *Hub) BroadcastEvent(event Event) {
	if !h.enabled(event.Type) {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.DroppedEvents++
		h.mu.Unlock()
		h.logger.Warn("Broadcast queue full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// BroadcastFile adapts a walker event for the hub.
func (h *Hub) BroadcastFile(ev walker.FileEvent) {
	h.BroadcastEvent(Event{
		Type:      EventTypeFileProcessed,
		Timestamp: time.Now(),
		Data:      ev,
	})
}

func (h *Hub) enabled(t EventType) bool {
	switch t {
	case EventTypeFileProcessed, EventTypeTableWritten:
		return h.cfg.Events.BroadcastFiles
	case EventTypeSubstitutionBatch:
		return h.cfg.Events.BroadcastSubstitutions
	case EventTypeSystemStatus:
		return h.cfg.Events.BroadcastSystem
	case EventTypeConnection:
		return h.cfg.Events.BroadcastConnections
	default:
		return false
	}
}

// HandleWebSocket upgrades an HTTP request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxConnections > 0 && h.ClientCount() >= h.cfg.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		conn:        conn,
		send:        make(chan Event, 64),
		connectedAt: time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.pingInterval())
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, open := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
			if !open {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				h.logger.Debug("Write failed",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(h.pongTimeout()))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(h.pongTimeout()))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				h.logger.Debug("Read failed",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}
		h.handleClientMessage(client, msg)
	}
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		var sub SubscriptionRequest
		if err := json.Unmarshal(msg.Data, &sub); err != nil {
			h.logger.Warn("Malformed subscription",
				zap.String("client_id", client.ID),
				zap.Error(err),
			)
			return
		}
		client.setSubscription(&sub)
		h.logger.Info("Client subscription updated", zap.String("client_id", client.ID))
	case "ping":
		select {
		case client.send <- Event{Type: "pong", Timestamp: time.Now()}:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetStats returns a snapshot of the hub counters.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := h.stats
	stats.ActiveConnections = len(h.clients)
	return stats
}

func (h *Hub) pingInterval() time.Duration {
	if h.cfg.PingInterval > 0 {
		return h.cfg.PingInterval
	}
	return 54 * time.Second
}

func (h *Hub) pongTimeout() time.Duration {
	if h.cfg.PongTimeout > 0 {
		return h.cfg.PongTimeout
	}
	return 60 * time.Second
}

func (h *Hub) writeTimeout() time.Duration {
	if h.cfg.WriteTimeout > 0 {
		return h.cfg.WriteTimeout
	}
	return 10 * time.Second
}
