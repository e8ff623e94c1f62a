package router

import (
	"sync"
	"time"
)

// RateLimiter enforces a fixed window message limit per connection
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*ClientLimit
	now     func() time.Time
}

// ClientLimit tracks the current window of a single connection
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per window for each key.
// A limit of zero or less returns nil, which allows everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*ClientLimit),
		now:     time.Now,
	}
}

// Allow reports whether key may send another message in the current window
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &ClientLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Forget drops the state kept for key
func (rl *RateLimiter) Forget(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Cleanup removes entries idle for more than five windows (call periodically)
func (rl *RateLimiter) Cleanup() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, key)
		}
	}
}

// Size returns the number of tracked keys
func (rl *RateLimiter) Size() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
