package authz

import (
	"sync"
	"time"
)

// Limit is one sliding-window rate limit.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits are the per-action limits applied at the fabric boundary.
// Keys for per-user actions are "<action>:<user_id>", per-ip actions
// "<action>:<ip>".
var DefaultLimits = map[string]Limit{
	"route":    {Max: 60, Window: time.Minute},
	"plan":     {Max: 30, Window: time.Minute},
	"context":  {Max: 60, Window: time.Minute},
	"apply":    {Max: 10, Window: time.Minute},
	"auth":     {Max: 10, Window: time.Minute},
	"register": {Max: 5, Window: time.Hour},
}

// DevAuthLimit is the relaxed auth limit for development environments.
var DevAuthLimit = Limit{Max: 30, Window: time.Minute}

// keyLimiter is a sliding-window counter keyed by an opaque string.
type keyLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func newKeyLimiter() *keyLimiter {
	return &keyLimiter{hits: make(map[string][]time.Time)}
}

// allow records one hit for key and reports whether it fits the limit.
// Hits older than the window are dropped on every call, so idle keys
// shrink back to nothing.
func (l *keyLimiter) allow(key string, limit int, window time.Duration, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	kept := l.hits[key][:0]
	for _, at := range l.hits[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= limit {
		if len(kept) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = kept
		}
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}
