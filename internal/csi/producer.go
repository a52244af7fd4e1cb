// SPDX-License-Identifier: MIT
package csi

// Producer copies driver events into owned frames and hands them to the queue.
type Producer struct {
	queue *Queue
	alloc *Allocator
	stats *counters
}

// NewProducer creates a producer feeding q with frames leased from a.
func NewProducer(q *Queue, a *Allocator) *Producer {
	return &Producer{queue: q, alloc: a, stats: &counters{}}
}

// OnFrame is the radio driver callback.
// Performance Critical (driver context):
// - Never blocks, sleeps or logs
// - Bounded work: two budget checks, one copy, one non-blocking push
// - Every failure is absorbed as a counted drop
func (p *Producer) OnFrame(ev *Event) {
	if ev == nil || ev.Buf == nil {
		p.stats.rejected.Add(1)
		return
	}
	n := ev.Len
	if n < 0 || n > len(ev.Buf) {
		p.stats.rejected.Add(1)
		return
	}
	p.stats.captured.Add(1)

	f, ok := p.alloc.newFrame()
	if !ok {
		p.stats.allocFailures.Add(1)
		return
	}
	f.RSSI = ev.RSSI

	if !p.alloc.lease(f, n) {
		f.Release()
		p.stats.allocFailures.Add(1)
		return
	}
	copy(f.Samples, ev.Buf[:n])

	// Drop newest on overload: the frame we just built is the one lost.
	if !p.queue.TryPush(f) {
		f.Release()
		p.stats.queueDrops.Add(1)
		return
	}
	p.stats.enqueued.Add(1)
}
