package router

import (
	"context"
	"sync"
	"time"
)

// Limits is the budget for one event type: MaxRequests per Window.
type Limits struct {
	MaxRequests int
	Window      time.Duration
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter keeps a fixed-window counter per (connection, event) pair.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]map[string]*bucket
	now     func() time.Time
}

// NewRateLimiter returns a limiter with no buckets.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]map[string]*bucket),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// Check counts one request and reports whether it fits the budget.
// The window restarts on the first request after resetAt.
func (rl *RateLimiter) Check(connID, event string, limits Limits) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	events, ok := rl.buckets[connID]
	if !ok {
		events = make(map[string]*bucket)
		rl.buckets[connID] = events
	}

	b, ok := events[event]
	if !ok || now.After(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(limits.Window)}
		events[event] = b
	} else {
		b.count++
	}

	remaining := limits.MaxRequests - b.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   b.count <= limits.MaxRequests,
		Limit:     limits.MaxRequests,
		Remaining: remaining,
		ResetAt:   b.resetAt,
	}
}

// Allow is Check reduced to its verdict.
func (rl *RateLimiter) Allow(connID, event string, limits Limits) bool {
	return rl.Check(connID, event, limits).Allowed
}

// RemoveConnection drops every bucket of a closed connection.
func (rl *RateLimiter) RemoveConnection(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, connID)
}

// Sweep removes expired buckets and connections left without any, returning
// the number of buckets removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for connID, events := range rl.buckets {
		for event, b := range events {
			if now.After(b.resetAt) {
				delete(events, event)
				removed++
			}
		}
		if len(events) == 0 {
			delete(rl.buckets, connID)
		}
	}
	return removed
}

// Start sweeps every interval until ctx is cancelled.
func (rl *RateLimiter) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Connections reports how many connections hold at least one bucket.
func (rl *RateLimiter) Connections() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
