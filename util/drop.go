package util

import "sync/atomic"

// DropCounter is a relaxed-atomic counter used by the packet fast path: the
// ingress/decap/dissector code never propagates an error up the stack, it
// increments a counter and moves on (spec's "Corrupt packet" and "Resource
// exhaustion" dispositions). Callers read it for stats/health reporting.
type DropCounter struct {
	n uint64
}

func (d *DropCounter) Inc() {
	atomic.AddUint64(&d.n, 1)
}

func (d *DropCounter) Add(delta uint64) {
	atomic.AddUint64(&d.n, delta)
}

func (d *DropCounter) Load() uint64 {
	return atomic.LoadUint64(&d.n)
}