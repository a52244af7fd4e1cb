// SPDX-License-Identifier: MIT
package csi

import (
	"context"
	"fmt"
	"time"

	applog "csi/internal/log"

	"github.com/google/uuid"
)

// Options sizes a Pipeline.
type Options struct {
	QueueCapacity int // Slots in the hand-off queue (default 150).
	MaxSamples    int // Largest payload accepted per frame (default 1024).
	AllocBudget   int // Frames that may be outstanding at once, 0 means queue capacity + 1 + Producers.
	Producers     int // Goroutines calling OnFrame concurrently (default 1).
}

// Pipeline wires one producer, one queue and one consumer around a sink. It
// is built once at startup; OnFrame is registered as the driver callback and
// Run is started on its own goroutine.
type Pipeline struct {
	id      uuid.UUID
	started time.Time

	queue    *Queue
	alloc    *Allocator
	producer *Producer
	consumer *Consumer
	stats    *counters
}

// New builds a pipeline delivering to s.
func New(opts Options, s Sink) (*Pipeline, error) {
	if s == nil {
		return nil, fmt.Errorf("pipeline: sink cannot be nil")
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if opts.Producers <= 0 {
		opts.Producers = 1
	}
	if opts.AllocBudget <= 0 {
		// Queue slots, plus the frame the consumer is delivering, plus one
		// frame under construction per producer.
		opts.AllocBudget = opts.QueueCapacity + 1 + opts.Producers
	}
	if opts.AllocBudget < 2 {
		return nil, fmt.Errorf("pipeline: allocation budget must be at least 2, got %d", opts.AllocBudget)
	}

	stats := &counters{}
	queue := NewQueue(opts.QueueCapacity)
	alloc := NewAllocator(opts.AllocBudget, opts.MaxSamples)

	producer := NewProducer(queue, alloc)
	producer.stats = stats
	consumer := NewConsumer(queue, s)
	consumer.stats = stats

	p := &Pipeline{
		id:       uuid.New(),
		started:  time.Now(),
		queue:    queue,
		alloc:    alloc,
		producer: producer,
		consumer: consumer,
		stats:    stats,
	}

	applog.Infof("Pipeline: session %s (queue: %d, max samples: %d, budget: %d frames)",
		p.id, opts.QueueCapacity, opts.MaxSamples, opts.AllocBudget)

	return p, nil
}

// ID returns the session identifier of this pipeline instance.
func (p *Pipeline) ID() uuid.UUID {
	return p.id
}

// OnFrame is the driver callback; see Producer.OnFrame.
func (p *Pipeline) OnFrame(ev *Event) {
	p.producer.OnFrame(ev)
}

// Run executes the consumer loop until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	applog.Infof("Pipeline: consumer started")
	err := p.consumer.Run(ctx)
	applog.Infof("Pipeline: consumer stopped")
	return err
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := p.stats.snapshot()
	s.Session = p.id.String()
	s.Uptime = time.Since(p.started)
	s.QueueDepth = p.queue.Len()
	s.QueueCapacity = p.queue.Cap()
	s.Outstanding = p.alloc.Outstanding()
	return s
}
