// Package security provides per-client request rate limiting for the
// redaction API.
package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/madhavanrx18/soc-challenge/internal/config"
)

// RateLimiter enforces a token-bucket limit per client key (tenant ID
// or client IP).
type RateLimiter struct {
	config  config.RateLimitConfig
	clients map[string]*client
	mu      sync.RWMutex
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a rate limiter from configuration.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*client),
	}
}

// Allow reports whether a request under the given key may proceed.
func (r *RateLimiter) Allow(key string) bool {
	if !r.config.Enabled {
		return true
	}

	c := r.getClient(key)
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
	return c.limiter.Allow()
}

// getClient gets or creates the limiter for a client key.
func (r *RateLimiter) getClient(key string) *client {
	r.mu.RLock()
	c, exists := r.clients[key]
	r.mu.RUnlock()

	if exists {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if c, exists := r.clients[key]; exists {
		return c
	}

	c = &client{
		limiter:  rate.NewLimiter(rate.Limit(r.config.RPS), r.config.Burst),
		lastSeen: time.Now(),
	}
	r.clients[key] = c
	return c
}

// CleanupOldClients removes limiters idle for over an hour so the map
// does not grow without bound.
func (r *RateLimiter) CleanupOldClients() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	for key, c := range r.clients {
		c.mu.Lock()
		idle := c.lastSeen.Before(cutoff)
		c.mu.Unlock()
		if idle {
			delete(r.clients, key)
		}
	}
}

// StartCleanupRoutine runs periodic cleanup until ctx is done.
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupOldClients()
			}
		}
	}()
}
