package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetection represents a redaction event with per-category counts
	EventTypeDetection EventType = "detection"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DetectionEvent reports what a processed payload contained, as counts
// per category. Matched text never travels through the hub.
type DetectionEvent struct {
	RequestID    string               `json:"request_id"`
	TenantID     string               `json:"tenant_id"`
	ContentType  string               `json:"content_type"`
	Categories   map[pii.Category]int `json:"categories"`
	TotalSpans   int                  `json:"total_spans"`
	UnitCount    int                  `json:"unit_count"`
	TimedOut     bool                 `json:"timed_out"`
	CacheHit     bool                 `json:"cache_hit"`
	ProcessingMS float64              `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string        `json:"request_id"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalDetections  int64  `json:"total_detections"`
	ActiveDetectors  int    `json:"active_detectors"`
	RegistryVersion  string `json:"registry_version"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
}
