// SPDX-License-Identifier: MIT
/*
Package csi implements the channel state information capture pipeline:
- Non-blocking producer invoked from radio driver context
- Bounded hand-off queue with drop-newest backpressure
- Single consumer task that owns, delivers and releases frames

Ownership:
- A Frame has exactly one owner at any instant (producer, queue, consumer)
- Ownership moves by handing over the *Frame, never by sharing it
- The queue is the only synchronization point between producer and consumer
*/
package csi

import "sync/atomic"

// Event is the transient record the radio driver hands to the producer.
// Buf belongs to the driver and is only valid for the duration of the callback.
type Event struct {
	RSSI int    // Received signal strength indicator (dBm).
	Len  int    // Number of samples reported by the driver.
	Buf  []int8 // Driver-owned sample buffer.
}

// Frame is an owned copy of one captured CSI record.
type Frame struct {
	RSSI    int    // Received signal strength indicator (dBm).
	Samples []int8 // Owned sample payload, len(Samples) == Len().

	alloc    *Allocator // Allocator the frame was leased from, nil for standalone frames.
	payload  *[]int8    // Pooled backing array for Samples.
	released atomic.Bool
}

// NewFrame builds a standalone frame that is not backed by an Allocator.
// The samples are copied.
func NewFrame(rssi int, samples []int8) *Frame {
	f := &Frame{RSSI: rssi, Samples: make([]int8, len(samples))}
	copy(f.Samples, samples)
	return f
}

// Len returns the sample count.
func (f *Frame) Len() int {
	return len(f.Samples)
}

// Release gives the frame back to its allocator. Only the first call has an
// effect; the frame must not be used afterwards.
func (f *Frame) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	f.Samples = nil
	if f.alloc != nil {
		f.alloc.free(f)
	}
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}
