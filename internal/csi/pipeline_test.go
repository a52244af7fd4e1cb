// SPDX-License-Identifier: MIT
package csi_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"csi/internal/csi"
	"csi/pkg/utils"
)

const testSamples = 64

// startPipeline runs p.Run on its own goroutine and stops it at cleanup.
func startPipeline(t *testing.T, p *csi.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewRequiresSink(t *testing.T) {
	if _, err := csi.New(csi.Options{}, nil); err == nil {
		t.Error("New() with nil sink should fail")
	}
}

func TestPipelineDefaults(t *testing.T) {
	p, err := csi.New(csi.Options{}, &utils.MockSink{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	st := p.Stats()
	if st.QueueCapacity != csi.DefaultQueueCapacity {
		t.Errorf("QueueCapacity = %d, want %d", st.QueueCapacity, csi.DefaultQueueCapacity)
	}
	if st.Session == "" || st.Session != p.ID().String() {
		t.Errorf("Session = %q, want %q", st.Session, p.ID())
	}
}

func TestPipelineCapacityTwoScenario(t *testing.T) {
	sink := &utils.MockSink{}
	p, err := csi.New(csi.Options{QueueCapacity: 2}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// F1, F2, F3 in immediate succession with nothing draining.
	for seq := 1; seq <= 3; seq++ {
		p.OnFrame(utils.GenerateEvent(-seq, testSamples, seq))
	}

	st := p.Stats()
	if st.Enqueued != 2 || st.QueueDrops != 1 {
		t.Fatalf("stats = %+v, want 2 enqueued / 1 dropped", st)
	}
	if st.Outstanding != 2 {
		t.Fatalf("Outstanding = %d, want 2 (F3 released by the producer)", st.Outstanding)
	}

	startPipeline(t, p)
	waitFor(t, "two deliveries", func() bool { return p.Stats().Delivered == 2 })

	got := sink.Deliveries()
	if len(got) != 2 || got[0].Samples[0] != 1 || got[1].Samples[0] != 2 {
		t.Fatalf("deliveries = %+v, want F1 then F2", got)
	}
	waitFor(t, "all frames released", func() bool { return p.Stats().Outstanding == 0 })
}

func TestPipelineOverload(t *testing.T) {
	const (
		n        = 250
		capacity = 16
	)
	gate := make(chan struct{})
	sink := &utils.MockSink{Gate: gate}
	p, err := csi.New(csi.Options{QueueCapacity: capacity}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	startPipeline(t, p)

	submitted := make(map[int][]int8, n)
	for seq := range n {
		ev := utils.GenerateEvent(-40, testSamples, seq)
		submitted[seq] = append([]int8(nil), ev.Buf...)
		p.OnFrame(ev)
	}
	close(gate)

	waitFor(t, "queue to drain", func() bool {
		st := p.Stats()
		return st.Delivered == st.Enqueued && st.Outstanding == 0
	})

	st := p.Stats()
	if st.Enqueued+st.QueueDrops+st.AllocFailures != n {
		t.Errorf("enqueued %d + dropped %d + alloc failures %d != submitted %d",
			st.Enqueued, st.QueueDrops, st.AllocFailures, n)
	}
	if st.Enqueued > capacity+1 {
		t.Errorf("enqueued %d frames with a stalled consumer, capacity is %d", st.Enqueued, capacity)
	}
	if st.QueueDrops == 0 {
		t.Error("expected backpressure drops under overload")
	}

	// Delivered frames are an ordered, duplicate-free, uncorrupted subsequence.
	deliveries := sink.Deliveries()
	if uint64(len(deliveries)) != st.Delivered {
		t.Fatalf("sink saw %d frames, stats say %d", len(deliveries), st.Delivered)
	}
	last := -1
	for i, d := range deliveries {
		seq := int(uint8(d.Samples[0]))
		if seq <= last {
			t.Fatalf("delivery %d: seq %d after %d (reordered or duplicated)", i, seq, last)
		}
		last = seq
		want := submitted[seq]
		for j := range want {
			if d.Samples[j] != want[j] {
				t.Fatalf("delivery %d (seq %d) corrupted at sample %d", i, seq, j)
			}
		}
	}
}

func TestPipelineSinkErrorDoesNotStopConsumer(t *testing.T) {
	sink := &utils.MockSink{Err: errors.New("peer unreachable")}
	p, err := csi.New(csi.Options{QueueCapacity: 8}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	startPipeline(t, p)

	for seq := range 20 {
		p.OnFrame(utils.GenerateEvent(-50, 8, seq))
		waitFor(t, "delivery attempt", func() bool { return sink.Calls() == seq+1 })
	}

	waitFor(t, "errors counted", func() bool { return p.Stats().SinkErrors == 20 })
	st := p.Stats()
	if st.Delivered != 0 {
		t.Errorf("Delivered = %d, want 0", st.Delivered)
	}
	if sink.Calls() != 20 {
		t.Errorf("sink called %d times, want 20 (no retries)", sink.Calls())
	}
	waitFor(t, "all frames released", func() bool { return p.Stats().Outstanding == 0 })
}

func TestPipelineSinkNotReady(t *testing.T) {
	var calls int
	var mu sync.Mutex
	sink := csi.SinkFunc(func(*csi.Frame) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return csi.ErrNotReady
	})
	p, err := csi.New(csi.Options{QueueCapacity: 4}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	startPipeline(t, p)

	for seq := range 3 {
		p.OnFrame(utils.GenerateEvent(-50, 8, seq))
	}

	waitFor(t, "not-ready frames", func() bool { return p.Stats().NotReady == 3 })
	st := p.Stats()
	if st.SinkErrors != 0 || st.Delivered != 0 {
		t.Errorf("stats = %+v, want only not-ready outcomes", st)
	}
	if st.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", st.Dropped())
	}
}

func TestPipelineShutdownReleasesQueuedFrames(t *testing.T) {
	p, err := csi.New(csi.Options{QueueCapacity: 8}, &utils.MockSink{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for seq := range 5 {
		p.OnFrame(utils.GenerateEvent(-50, 8, seq))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st := p.Stats()
	if st.Outstanding != 0 || st.QueueDepth != 0 {
		t.Errorf("after shutdown: Outstanding=%d QueueDepth=%d, want 0/0", st.Outstanding, st.QueueDepth)
	}
}

func TestPipelineDropPathKeepsEarlierFrames(t *testing.T) {
	sink := &utils.MockSink{}
	p, err := csi.New(csi.Options{QueueCapacity: 3}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for seq := range 3 {
		p.OnFrame(utils.GenerateEvent(-1, 4, seq))
	}
	// Hammer the full queue; none of these may disturb F0..F2.
	for range 100 {
		p.OnFrame(utils.GenerateEvent(-1, 4, 99))
	}

	startPipeline(t, p)
	waitFor(t, "deliveries", func() bool { return p.Stats().Delivered == 3 })

	for i, d := range sink.Deliveries() {
		if int(d.Samples[0]) != i {
			t.Errorf("delivery %d = seq %d, want %d", i, d.Samples[0], i)
		}
	}
	if p.Stats().QueueDrops != 100 {
		t.Errorf("QueueDrops = %d, want 100", p.Stats().QueueDrops)
	}
}

func TestPipelineConcurrentProducers(t *testing.T) {
	sink := &utils.MockSink{}
	p, err := csi.New(csi.Options{QueueCapacity: 32, Producers: 4}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	startPipeline(t, p)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 250 {
				p.OnFrame(utils.GenerateEvent(-w, 16, i))
			}
		}()
	}
	wg.Wait()

	waitFor(t, "drain", func() bool {
		st := p.Stats()
		return st.Delivered == st.Enqueued && st.Outstanding == 0
	})
	st := p.Stats()
	if st.Captured != 1000 || st.Enqueued+st.QueueDrops+st.AllocFailures != 1000 {
		t.Errorf("stats = %+v, want every captured frame accounted for", st)
	}
	if st.AllocFailures != 0 {
		t.Errorf("AllocFailures = %d, want 0 with a budget sized for 4 producers", st.AllocFailures)
	}
}

func TestPipelineBudgetCoversEveryProducer(t *testing.T) {
	const (
		capacity  = 4
		producers = 3
	)
	// Stall the consumer on the first frame so every queue slot fills.
	gate := make(chan struct{})
	sink := &utils.MockSink{Gate: gate}
	p, err := csi.New(csi.Options{QueueCapacity: capacity, Producers: producers}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	startPipeline(t, p)
	defer close(gate)

	p.OnFrame(utils.GenerateEvent(-1, 4, 0))
	waitFor(t, "consumer to hold a frame", func() bool { return sink.Calls() == 1 })
	for seq := 1; seq <= capacity; seq++ {
		p.OnFrame(utils.GenerateEvent(-1, 4, seq))
	}

	// One delivering and capacity queued; the budget still has a frame for
	// each producer to build.
	st := p.Stats()
	if st.Outstanding != capacity+1 {
		t.Fatalf("Outstanding = %d, want %d", st.Outstanding, capacity+1)
	}

	// A full queue costs queue drops, never allocation failures.
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				p.OnFrame(utils.GenerateEvent(-1, 4, 99))
			}
		}()
	}
	wg.Wait()
	st = p.Stats()
	if st.AllocFailures != 0 || st.QueueDrops != producers*50 {
		t.Errorf("AllocFailures = %d, QueueDrops = %d, want 0 and %d", st.AllocFailures, st.QueueDrops, producers*50)
	}
}
