// SPDX-License-Identifier: MIT
package csi

import (
	"context"
	"errors"
	"time"

	applog "csi/internal/log"
)

// Consumer is the dedicated delivery task: it pops frames one at a time,
// hands them to the sink and releases them.
type Consumer struct {
	queue *Queue
	sink  Sink
	stats *counters

	errLog *applog.Sampler
}

// NewConsumer creates a consumer draining q into s.
func NewConsumer(q *Queue, s Sink) *Consumer {
	return &Consumer{
		queue:  q,
		sink:   s,
		stats:  &counters{},
		errLog: applog.NewSampler(applog.LevelWarn, time.Second, 5),
	}
}

// Run delivers frames until ctx is done. Frames left in the queue at that
// point are released without being emitted. Run never fails because of the
// sink; it only returns when ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		f, err := c.queue.PopContext(ctx)
		if err != nil {
			if n := c.queue.Drain(); n > 0 {
				applog.Debugf("Consumer: released %d undelivered frames on shutdown", n)
			}
			return nil
		}
		c.deliver(f)
	}
}

// deliver emits f and releases it whatever the outcome. There is no retry
// and no requeue: delivery is at most once.
func (c *Consumer) deliver(f *Frame) {
	defer f.Release()

	err := c.sink.Emit(f)
	switch {
	case err == nil:
		c.stats.delivered.Add(1)
	case errors.Is(err, ErrNotReady):
		c.stats.notReady.Add(1)
	default:
		c.stats.sinkErrors.Add(1)
		c.errLog.Logf("Consumer: sink error, frame discarded: %v", err)
	}
}
