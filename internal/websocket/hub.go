package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultBufferSize = 1024
	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Hub maintains the set of active dashboard clients and broadcasts
// events to them.
type Hub struct {
	config config.WebSocketConfig
	logger *zap.Logger

	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	stats HubStats
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections  int64
	ActiveConnections int64
	TotalMessages     int64
	TotalBroadcasts   int64
	LastBroadcastTime time.Time
}

// NewHub creates a new WebSocket hub
func NewHub(cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	readBuf := cfg.ReadBufferSize
	if readBuf <= 0 {
		readBuf = defaultBufferSize
	}
	writeBuf := cfg.WriteBufferSize
	if writeBuf <= 0 {
		writeBuf = defaultBufferSize
	}

	h := &Hub{
		config:     cfg,
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  readBuf,
		WriteBufferSize: writeBuf,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the Origin header against the allow list. An
// empty list allows all origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Run handles client registration and broadcasting until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
	}
	h.stats.ActiveConnections = 0
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections++

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", h.stats.ActiveConnections),
	)

	event := Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:   "connected",
			ClientID: client.ID,
			ClientIP: client.IP,
			Message:  fmt.Sprintf("Client %s connected", client.ID),
		},
	}
	go h.BroadcastEvent(event)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		h.stats.ActiveConnections--

		h.logger.Info("Client disconnected",
			zap.String("client_id", client.ID),
			zap.String("client_ip", client.IP),
			zap.Int64("active_connections", h.stats.ActiveConnections),
		)
	}
}

func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalBroadcasts++
	h.stats.LastBroadcastTime = time.Now()

	for client := range h.clients {
		if !h.shouldSendToClient(client, event) {
			continue
		}
		select {
		case client.Send <- event:
			h.stats.TotalMessages++
		default:
			// Slow client, drop it rather than stall the hub
			h.logger.Warn("Client send channel full, closing connection",
				zap.String("client_id", client.ID),
			)
			delete(h.clients, client)
			close(client.Send)
			h.stats.ActiveConnections--
		}
	}
}

// shouldSendToClient applies the client's event type subscription.
func (h *Hub) shouldSendToClient(client *Client, event Event) bool {
	if client.Subscription == nil {
		return true
	}
	for _, eventType := range client.Subscription.Events {
		if eventType == event.Type {
			return true
		}
	}
	return false
}

// BroadcastEvent queues an event for all connected clients without
// blocking the caller.
func (h *Hub) BroadcastEvent(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// HandleWebSocket upgrades an HTTP request into a hub client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          "client_" + uuid.NewString(),
		Conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		IP:          clientIP(r),
	}

	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writeWait() time.Duration {
	if h.config.WriteTimeout > 0 {
		return h.config.WriteTimeout
	}
	return defaultWriteWait
}

func (h *Hub) pongWait() time.Duration {
	if h.config.PongTimeout > 0 {
		return h.config.PongTimeout
	}
	return defaultPongWait
}

func (h *Hub) pingPeriod() time.Duration {
	if h.config.PingInterval > 0 {
		return h.config.PingInterval
	}
	return (h.pongWait() * 9) / 10
}

// writePump pushes events and pings to one client.
func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.pingPeriod())
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Error("Failed to write WebSocket message",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client messages until the connection drops.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.unregister <- client
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	client.Conn.SetPongHandler(func(string) error {
		client.LastPing = time.Now()
		client.Conn.SetReadDeadline(time.Now().Add(h.pongWait()))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			break
		}
		h.handleClientMessage(client, msg)
	}
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		if data, ok := msg.Data.(map[string]interface{}); ok {
			jsonData, _ := json.Marshal(data)
			var subscription SubscriptionRequest
			if err := json.Unmarshal(jsonData, &subscription); err == nil {
				client.Subscription = &subscription
				h.logger.Info("Client subscription updated",
					zap.String("client_id", client.ID),
					zap.Any("events", subscription.Events),
				)
			}
		}
	case "ping":
		pong := Event{
			Type:      "pong",
			Timestamp: time.Now(),
			Data:      map[string]string{"message": "pong"},
		}
		select {
		case client.Send <- pong:
		default:
		}
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := h.stats
	stats.ActiveConnections = int64(len(h.clients))
	return stats
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
