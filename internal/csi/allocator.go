// SPDX-License-Identifier: MIT
package csi

import (
	"sync"
	"sync/atomic"
)

// AllocatorStats is a snapshot of allocator activity.
type AllocatorStats struct {
	Allocated   uint64 `json:"allocated"`   // Frames handed out.
	Released    uint64 `json:"released"`    // Frames given back.
	Outstanding int64  `json:"outstanding"` // Frames currently owned by someone.
}

// Allocator hands out frames against a fixed budget and recycles their
// payload buffers. It stands in for the heap of the capture device: when the
// budget is exhausted or a payload is larger than maxSamples the allocation
// fails instead of growing.
//
// All methods are safe for concurrent use and never block.
type Allocator struct {
	maxFrames  int64 // Outstanding frame budget, 0 means unbounded.
	maxSamples int   // Largest payload a single frame may hold.

	outstanding atomic.Int64
	allocated   atomic.Uint64
	released    atomic.Uint64

	pool sync.Pool // *[]int8 with cap maxSamples
}

// NewAllocator creates an allocator that allows at most maxFrames frames to be
// outstanding at once, each holding at most maxSamples samples.
func NewAllocator(maxFrames, maxSamples int) *Allocator {
	if maxFrames < 0 {
		maxFrames = 0
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	a := &Allocator{
		maxFrames:  int64(maxFrames),
		maxSamples: maxSamples,
	}
	a.pool.New = func() any {
		buf := make([]int8, maxSamples)
		return &buf
	}
	return a
}

// MaxSamples returns the largest payload the allocator will lease.
func (a *Allocator) MaxSamples() int {
	return a.maxSamples
}

// newFrame reserves one slot of the frame budget. The returned frame has no
// payload yet; it must be released even if leasing the payload fails.
func (a *Allocator) newFrame() (*Frame, bool) {
	for {
		cur := a.outstanding.Load()
		if a.maxFrames > 0 && cur >= a.maxFrames {
			return nil, false
		}
		if a.outstanding.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	a.allocated.Add(1)
	return &Frame{alloc: a}, true
}

// lease attaches a payload of n samples to f.
func (a *Allocator) lease(f *Frame, n int) bool {
	if n < 0 || n > a.maxSamples {
		return false
	}
	buf := a.pool.Get().(*[]int8)
	f.payload = buf
	f.Samples = (*buf)[:n]
	return true
}

// free is called exactly once per frame by Frame.Release.
func (a *Allocator) free(f *Frame) {
	if f.payload != nil {
		*f.payload = (*f.payload)[:cap(*f.payload)]
		a.pool.Put(f.payload)
		f.payload = nil
	}
	a.outstanding.Add(-1)
	a.released.Add(1)
}

// Outstanding returns the number of frames not yet released.
func (a *Allocator) Outstanding() int {
	return int(a.outstanding.Load())
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() AllocatorStats {
	return AllocatorStats{
		Allocated:   a.allocated.Load(),
		Released:    a.released.Load(),
		Outstanding: a.outstanding.Load(),
	}
}
