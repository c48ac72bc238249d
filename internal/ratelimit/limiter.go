package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before trying again.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Decision
}

type window struct {
	count   int
	resetAt time.Time
}

// InMemoryLimiter is a process-local fixed-window limiter.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	items  map[string]*window
	now    func() time.Time
}

// NewInMemory creates a limiter. A non-positive window defaults to one minute.
func NewInMemory(win time.Duration) *InMemoryLimiter {
	if win <= 0 {
		win = time.Minute
	}
	return &InMemoryLimiter{
		window: win,
		items:  make(map[string]*window),
		now:    time.Now,
	}
}

// Allow records a hit for key and reports whether it fits under limit.
func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup(now)
	curr, ok := l.items[key]
	if !ok {
		curr = &window{resetAt: now.Add(l.window)}
		l.items[key] = curr
	}
	curr.count++

	return decide(curr.count, limit, curr.resetAt)
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
