package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits requests globally and per client. Client limiters that
// have been idle longer than the idle timeout are dropped by Sweep.
type RateLimiter struct {
	global  *rate.Limiter
	clients map[string]*clientLimiter
	mu      sync.Mutex

	requestsPerSecond float64
	burst             int
	idleTimeout       time.Duration
	now               func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter. The global limit is ten times the
// per-client limit.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		global:            rate.NewLimiter(rate.Limit(requestsPerSecond*10), burst*10),
		clients:           make(map[string]*clientLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleTimeout:       10 * time.Minute,
		now:               time.Now,
	}
}

// Allow reports whether a request from clientID may proceed now.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}
	return rl.client(clientID).Allow()
}

// Wait blocks until a request from clientID may proceed.
func (rl *RateLimiter) Wait(ctx context.Context, clientID string) error {
	if err := rl.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}
	if err := rl.client(clientID).Wait(ctx); err != nil {
		return fmt.Errorf("client rate limit: %w", err)
	}
	return nil
}

// Sweep removes client limiters idle for longer than the idle timeout and
// returns how many were removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTimeout)
	removed := 0
	for id, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) client(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)}
		rl.clients[clientID] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}
