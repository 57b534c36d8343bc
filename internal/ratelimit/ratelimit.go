// Package ratelimit provides sliding-window counters keyed by caller
// composed identities, e.g. "create:<ip>" or "chat:<conn>".
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// NewLimiterAt builds a limiter with an injected time source for tests.
func NewLimiterAt(now func() time.Time) *Limiter {
	return &Limiter{
		history: make(map[string][]time.Time),
		now:     now,
	}
}

// Allow records an attempt under key and reports whether it fits inside
// the window. Old attempts are pruned on every call, so the window slides
// without any background work.
func (l *Limiter) Allow(key string, window time.Duration, max int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-window)

	attempts := l.history[key]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= max {
		l.history[key] = fresh
		return false
	}

	fresh = append(fresh, now)
	l.history[key] = fresh
	return true
}

// Forget drops all state for key, typically on connection teardown.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, key)
}
