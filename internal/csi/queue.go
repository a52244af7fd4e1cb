// SPDX-License-Identifier: MIT
package csi

import "context"

const (
	DefaultQueueCapacity = 150  // Frame handles buffered between producer and consumer
	DefaultMaxSamples    = 1024 // Largest CSI payload accepted from the driver
)

// Queue is a fixed-capacity FIFO of frame ownership handles. Pushing never
// blocks and never grows the queue; popping suspends until a frame arrives.
// Any number of goroutines may push; exactly one goroutine should pop.
type Queue struct {
	ch chan *Frame
}

// NewQueue creates a queue holding at most capacity frames. A non-positive
// capacity selects DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan *Frame, capacity)}
}

// TryPush hands f to the queue. It returns false without retaining f when the
// queue is full, in which case the caller still owns f.
func (q *Queue) TryPush(f *Frame) bool {
	if f == nil {
		return false
	}
	select {
	case q.ch <- f:
		return true
	default:
		return false
	}
}

// Pop blocks until a frame is available and transfers its ownership to the
// caller.
func (q *Queue) Pop() *Frame {
	return <-q.ch
}

// PopContext is Pop with an exit for process shutdown. It returns ctx.Err()
// once ctx is done.
func (q *Queue) PopContext(ctx context.Context) (*Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain releases every frame still queued and returns how many there were.
// Only the consumer side may call it.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case f := <-q.ch:
			f.Release()
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
