// Package freelater provides a deferred-release pool: objects handed to it
// aren't reused until a grace period has elapsed, giving any packet thread
// still holding a stale reference (from before a rotation or table
// retirement) time to finish reading it safely without locking.
//
// This is the Go-side analog of the retirement queue the capture engine
// uses to recycle session structs and writer buffers across threads
// without a shared mutex on the hot path.
package freelater

import (
	"sync"
	"time"
)

// defaultGrace matches the retirement window the engine is documented to
// use elsewhere for session and credential objects.
const defaultGrace = 7 * time.Second

// Pool retires values in per-second buckets and drains buckets whose age
// exceeds the grace period. It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	grace   time.Duration
	buckets map[int64][]interface{}
	nowFn   func() time.Time
	onFree  func(interface{})
}

// New returns a Pool with the default 7 second grace period. onFree, if
// non-nil, is invoked (outside the pool's lock) for each value as it is
// finally released.
func New(onFree func(interface{})) *Pool {
	return &Pool{
		grace:   defaultGrace,
		buckets: make(map[int64][]interface{}),
		nowFn:   time.Now,
		onFree:  onFree,
	}
}

// NewWithGrace is New with an explicit grace period, mainly for tests that
// don't want to wait 7 real seconds.
func NewWithGrace(grace time.Duration, onFree func(interface{})) *Pool {
	p := New(onFree)
	p.grace = grace
	return p
}

// Retire schedules v for release once the grace period has elapsed. It does
// not block and does not call onFree synchronously.
func (p *Pool) Retire(v interface{}) {
	bucket := p.nowFn().Unix()
	p.mu.Lock()
	p.buckets[bucket] = append(p.buckets[bucket], v)
	p.mu.Unlock()
}

// Drain releases every bucket whose age now exceeds the grace period and
// returns how many values were freed. Intended to be called periodically
// from the engine's main loop, not from the hot path.
func (p *Pool) Drain() int {
	cutoff := p.nowFn().Add(-p.grace).Unix()

	p.mu.Lock()
	var freed []interface{}
	for bucket, vals := range p.buckets {
		if bucket <= cutoff {
			freed = append(freed, vals...)
			delete(p.buckets, bucket)
		}
	}
	p.mu.Unlock()

	if p.onFree != nil {
		for _, v := range freed {
			p.onFree(v)
		}
	}
	return len(freed)
}

// Pending reports how many values are currently retired but not yet freed.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, vals := range p.buckets {
		n += len(vals)
	}
	return n
}