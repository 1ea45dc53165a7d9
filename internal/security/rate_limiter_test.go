package security

import (
	"testing"
	"time"

	"github.com/madhavanrx18/soc-challenge/internal/config"
)

// TestRateLimiterDisabled tests that a disabled limiter admits
// everything
func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: false})
	for i := 0; i < 100; i++ {
		if !r.Allow("anyone") {
			t.Fatal("Disabled limiter denied a request")
		}
	}
}

// TestRateLimiterBurst tests that the burst budget is enforced
func TestRateLimiterBurst(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 3})

	for i := 0; i < 3; i++ {
		if !r.Allow("tenant-a") {
			t.Fatalf("Request %d denied within burst", i+1)
		}
	}
	if r.Allow("tenant-a") {
		t.Error("Request beyond burst allowed")
	}
}

// TestRateLimiterSeparateKeys tests that each client key has its own
// budget
func TestRateLimiterSeparateKeys(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1})

	if !r.Allow("tenant-a") {
		t.Fatal("First request for tenant-a denied")
	}
	if r.Allow("tenant-a") {
		t.Error("Second request for tenant-a allowed")
	}
	if !r.Allow("tenant-b") {
		t.Error("First request for tenant-b denied")
	}
}

// TestCleanupOldClients tests that idle client entries are removed
func TestCleanupOldClients(t *testing.T) {
	r := NewRateLimiter(config.RateLimitConfig{Enabled: true, RPS: 10, Burst: 10})
	r.Allow("stale")
	r.Allow("fresh")

	r.mu.Lock()
	r.clients["stale"].lastSeen = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	r.CleanupOldClients()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients["stale"]; ok {
		t.Error("Stale client survived cleanup")
	}
	if _, ok := r.clients["fresh"]; !ok {
		t.Error("Fresh client removed by cleanup")
	}
}
