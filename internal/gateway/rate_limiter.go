package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter limits inbound frames per connection. Each connection gets a
// token bucket refilled at perMinute/60 tokens per second that holds up to a
// full minute's budget.
type RateLimiter struct {
	perMinute int
	clients   map[string]*rate.Limiter
	mu        sync.Mutex
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the connection may send another frame now.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	limiter, ok := rl.clients[connID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60), rl.perMinute)
		rl.clients[connID] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// Forget drops the connection's bucket once it has closed.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	delete(rl.clients, connID)
	rl.mu.Unlock()
}

// Tracked returns how many connections currently hold a bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
