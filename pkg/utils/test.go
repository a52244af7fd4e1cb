package utils

import (
	"sync"

	"csi/internal/csi"
)

// Delivery is one frame observed by a MockSink, copied before release.
type Delivery struct {
	RSSI    int
	Samples []int8
}

// MockSink implements csi.Sink for testing. It records a copy of every frame
// it receives and can be told to fail or block.
type MockSink struct {
	mu         sync.Mutex
	deliveries []Delivery
	calls      int

	// Err, if set, is returned by every Emit after the frame is recorded.
	Err error
	// Gate, if set, is received from before each Emit returns, letting a
	// test hold the consumer inside the sink.
	Gate chan struct{}
	// Emitted, if set, receives the call count after each Emit.
	Emitted chan int
}

// Emit stores a copy of the frame instead of transmitting it.
func (m *MockSink) Emit(f *csi.Frame) error {
	samples := make([]int8, len(f.Samples))
	copy(samples, f.Samples)

	m.mu.Lock()
	m.deliveries = append(m.deliveries, Delivery{RSSI: f.RSSI, Samples: samples})
	m.calls++
	calls := m.calls
	m.mu.Unlock()

	if m.Gate != nil {
		<-m.Gate
	}
	if m.Emitted != nil {
		m.Emitted <- calls
	}
	return m.Err
}

// Deliveries returns a copy of everything recorded so far.
func (m *MockSink) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// Calls returns the number of Emit calls.
func (m *MockSink) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// GenerateSamples returns n samples tagged with seq in the first sample so a
// test can tell frames apart after delivery. The rest is a ramp wrapping
// through the int8 range.
func GenerateSamples(n int, seq int) []int8 {
	buf := make([]int8, n)
	for i := range buf {
		buf[i] = int8(i*7 - 64)
	}
	if n > 0 {
		buf[0] = int8(seq)
	}
	return buf
}

// GenerateEvent builds a driver event carrying GenerateSamples(n, seq).
func GenerateEvent(rssi, n, seq int) *csi.Event {
	buf := GenerateSamples(n, seq)
	return &csi.Event{RSSI: rssi, Len: n, Buf: buf}
}
