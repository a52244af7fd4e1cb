// SPDX-License-Identifier: MIT
package monitor

import (
	"fmt"
	"sync"
	"time"

	"csi/internal/csi"
	applog "csi/internal/log"
)

// DefaultPublishInterval is used when no positive interval is configured.
const DefaultPublishInterval = time.Second

// Broadcaster accepts messages for delivery to monitor clients.
type Broadcaster interface {
	Send(data any) error
}

// Message is one stats update pushed to monitor clients.
type Message struct {
	Sequence  uint32    `json:"seq"`
	Timestamp int64     `json:"ts"` // Nanoseconds since epoch
	Stats     csi.Stats `json:"stats"`
}

// Publisher periodically snapshots pipeline stats and hands them to a
// Broadcaster. It runs in a separate goroutine managed by Start and Stop.
type Publisher struct {
	out      Broadcaster
	stats    func() csi.Stats
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop

	sequenceNum uint32
}

// NewPublisher creates a publisher. A non-positive interval falls back to
// DefaultPublishInterval.
func NewPublisher(interval time.Duration, out Broadcaster, stats func() csi.Stats) (*Publisher, error) {
	if out == nil {
		return nil, fmt.Errorf("publisher: broadcaster cannot be nil")
	}
	if stats == nil {
		return nil, fmt.Errorf("publisher: stats source cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultPublishInterval
		applog.Warnf("Publisher: invalid interval, defaulting to %s", interval)
	}
	return &Publisher{out: out, stats: stats, interval: interval}, nil
}

// Start launches the publishing goroutine. Calling Start on a running
// publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Publisher: Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("Publisher: started (interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it to exit. It is safe
// to call more than once.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("Publisher: stopped")
	return nil
}

func (p *Publisher) publish() {
	p.sequenceNum++
	msg := Message{
		Sequence:  p.sequenceNum,
		Timestamp: time.Now().UnixNano(),
		Stats:     p.stats(),
	}
	if err := p.out.Send(msg); err != nil {
		applog.Debugf("Publisher: send %d failed: %v", p.sequenceNum, err)
	}
}

// Close implements io.Closer.
func (p *Publisher) Close() error {
	return p.Stop()
}
