package printer

import (
	"sync"
	"time"
)

// RateLimiter suppresses repeated log lines that share a key, so a single
// misbehaving packet or flow cannot flood stderr. One is created per
// distinct concern (e.g. "dhcp: truncated option", "writer: put failed")
// and shared across goroutines.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]rateLimitEntry
	now    func() time.Time
}

type rateLimitEntry struct {
	firstAt    time.Time
	suppressed int
}

// NewRateLimiter returns a limiter that allows one log line per key per
// window, and silently counts the rest.
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{
		window: window,
		seen:   make(map[string]rateLimitEntry),
		now:    time.Now,
	}
}

// Allow reports whether a log line for key should be emitted now. If not,
// it records the suppression so a later flush can report the count.
func (r *RateLimiter) Allow(key string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.seen[key]
	if !ok || now.Sub(entry.firstAt) > r.window {
		r.seen[key] = rateLimitEntry{firstAt: now}
		return true
	}
	entry.suppressed++
	r.seen[key] = entry
	return false
}

// Errorf logs at most once per window for a given key; subsequent calls
// within the window are counted but not printed.
func (r *RateLimiter) Errorf(key, fmtString string, args ...interface{}) {
	if r.Allow(key) {
		Errorf(fmtString, args...)
	}
}

// Warningf logs at most once per window for a given key.
func (r *RateLimiter) Warningf(key, fmtString string, args ...interface{}) {
	if r.Allow(key) {
		Warningf(fmtString, args...)
	}
}

// Suppressed returns how many calls for key were suppressed in the current
// window, and resets the counter.
func (r *RateLimiter) Suppressed(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.seen[key]
	n := entry.suppressed
	entry.suppressed = 0
	r.seen[key] = entry
	return n
}