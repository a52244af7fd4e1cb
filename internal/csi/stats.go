// SPDX-License-Identifier: MIT
package csi

import (
	"sync/atomic"
	"time"
)

// counters is the shared telemetry written by the producer and consumer.
// Every field is updated atomically; none of it is needed for correctness.
type counters struct {
	captured      atomic.Uint64 // Events accepted from the driver
	rejected      atomic.Uint64 // Events with no payload or an inconsistent length
	allocFailures atomic.Uint64 // Frames abandoned because the allocator refused
	enqueued      atomic.Uint64 // Frames handed to the queue
	queueDrops    atomic.Uint64 // Frames released because the queue was full
	delivered     atomic.Uint64 // Frames the sink accepted
	notReady      atomic.Uint64 // Frames discarded because the sink was not ready
	sinkErrors    atomic.Uint64 // Frames discarded because the sink failed
}

// Stats is a point-in-time snapshot of pipeline activity. Counters are read
// independently, so a snapshot taken under load may be slightly inconsistent.
type Stats struct {
	Session       string        `json:"session"`
	Uptime        time.Duration `json:"uptime_ns"`
	Captured      uint64        `json:"captured"`
	Rejected      uint64        `json:"rejected"`
	AllocFailures uint64        `json:"alloc_failures"`
	Enqueued      uint64        `json:"enqueued"`
	QueueDrops    uint64        `json:"queue_drops"`
	Delivered     uint64        `json:"delivered"`
	NotReady      uint64        `json:"not_ready"`
	SinkErrors    uint64        `json:"sink_errors"`
	QueueDepth    int           `json:"queue_depth"`
	QueueCapacity int           `json:"queue_capacity"`
	Outstanding   int           `json:"outstanding"`
}

// Dropped returns every frame lost between the driver and the sink.
func (s Stats) Dropped() uint64 {
	return s.AllocFailures + s.QueueDrops + s.NotReady + s.SinkErrors
}

func (c *counters) snapshot() Stats {
	return Stats{
		Captured:      c.captured.Load(),
		Rejected:      c.rejected.Load(),
		AllocFailures: c.allocFailures.Load(),
		Enqueued:      c.enqueued.Load(),
		QueueDrops:    c.queueDrops.Load(),
		Delivered:     c.delivered.Load(),
		NotReady:      c.notReady.Load(),
		SinkErrors:    c.sinkErrors.Load(),
	}
}
