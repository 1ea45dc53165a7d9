package websocket

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
)

func testHub() *Hub {
	return NewHub(config.WebSocketConfig{}, zap.NewNop())
}

// TestBroadcastEventNonBlocking tests that queuing never stalls the
// caller, even with no hub loop draining the channel
func TestBroadcastEventNonBlocking(t *testing.T) {
	h := testHub()
	for i := 0; i < 300; i++ {
		h.BroadcastEvent(Event{Type: EventTypeDetection, Timestamp: time.Now()})
	}
}

// TestHubDelivery tests registration, delivery and stats bookkeeping
func TestHubDelivery(t *testing.T) {
	h := testHub()
	client := &Client{ID: "c1", Send: make(chan Event, 4)}
	h.registerClient(client)

	stats := h.GetStats()
	if stats.TotalConnections != 1 || stats.ActiveConnections != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	h.broadcastEvent(Event{Type: EventTypeDetection, Timestamp: time.Now()})
	select {
	case event := <-client.Send:
		if event.Type != EventTypeDetection {
			t.Errorf("Event type = %q", event.Type)
		}
	default:
		t.Fatal("No event delivered to client")
	}

	if got := h.GetStats(); got.TotalMessages != 1 || got.TotalBroadcasts != 1 {
		t.Errorf("Stats after broadcast = %+v", got)
	}

	h.unregisterClient(client)
	if got := h.GetStats(); got.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d after unregister", got.ActiveConnections)
	}
}

// TestHubSubscriptionFilter tests that clients only receive subscribed
// event types
func TestHubSubscriptionFilter(t *testing.T) {
	h := testHub()
	client := &Client{
		ID:           "c1",
		Send:         make(chan Event, 4),
		Subscription: &SubscriptionRequest{Events: []EventType{EventTypeSystemStatus}},
	}
	h.registerClient(client)

	h.broadcastEvent(Event{Type: EventTypeDetection})
	select {
	case event := <-client.Send:
		if event.Type == EventTypeDetection {
			t.Error("Unsubscribed event type delivered")
		}
	default:
	}

	h.broadcastEvent(Event{Type: EventTypeSystemStatus})
	select {
	case event := <-client.Send:
		if event.Type != EventTypeSystemStatus {
			t.Errorf("Event type = %q", event.Type)
		}
	default:
		t.Error("Subscribed event type not delivered")
	}
}

// TestHubSlowClientDropped tests that a client with a full send buffer
// is disconnected instead of stalling broadcasts
func TestHubSlowClientDropped(t *testing.T) {
	h := testHub()
	client := &Client{ID: "slow", Send: make(chan Event, 1)}
	h.registerClient(client)

	h.broadcastEvent(Event{Type: EventTypeDetection})
	h.broadcastEvent(Event{Type: EventTypeDetection})

	if got := h.GetStats(); got.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d, want 0", got.ActiveConnections)
	}

	// The buffered event is still readable, then the channel is closed
	<-client.Send
	if _, ok := <-client.Send; ok {
		t.Error("Send channel not closed for dropped client")
	}
}

// TestHubRun tests the event loop end to end with a subscribed client
func TestHubRun(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	client := &Client{
		ID:           "c1",
		Send:         make(chan Event, 4),
		Subscription: &SubscriptionRequest{Events: []EventType{EventTypeDetection}},
	}
	h.register <- client

	h.BroadcastEvent(Event{Type: EventTypeDetection, RequestID: "req-1"})
	select {
	case event := <-client.Send:
		if event.RequestID != "req-1" {
			t.Errorf("RequestID = %q", event.RequestID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Event not delivered")
	}

	cancel()
	<-done
	for range client.Send {
	}
}

// TestCheckOrigin tests the origin allow list
func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"EmptyListAllowsAll", nil, "https://anywhere.example", true},
		{"Wildcard", []string{"*"}, "https://anywhere.example", true},
		{"ExactMatch", []string{"https://ok.example"}, "https://ok.example", true},
		{"Mismatch", []string{"https://ok.example"}, "https://evil.example", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHub(config.WebSocketConfig{AllowedOrigins: tc.allowed}, zap.NewNop())
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Header.Set("Origin", tc.origin)
			if got := h.checkOrigin(r); got != tc.want {
				t.Errorf("checkOrigin = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestClientIP tests proxy header precedence
func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if got := clientIP(r); got != "10.0.0.1:1234" {
		t.Errorf("clientIP = %q", got)
	}

	r.Header.Set("X-Real-IP", "203.0.113.7")
	if got := clientIP(r); got != "203.0.113.7" {
		t.Errorf("clientIP = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "198.51.100.9")
	if got := clientIP(r); got != "198.51.100.9" {
		t.Errorf("clientIP = %q", got)
	}
}
