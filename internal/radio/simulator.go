// SPDX-License-Identifier: MIT
package radio

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"csi/internal/csi"
	applog "csi/internal/log"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat/distuv"
)

// Simulator defaults. 128 samples is the LLTF/HT-LTF length reported by a
// classic ESP32 (64 subcarriers, two bytes each).
const (
	DefaultSimulatorRate    = 100.0
	DefaultSimulatorSamples = 128
	DefaultSimulatorRSSI    = -55
	DefaultSimulatorJitter  = 3.0
	DefaultSimulatorNoise   = 4.0
)

// SimulatorOptions configures the synthetic source.
type SimulatorOptions struct {
	Rate    float64 // Frames per second, <= 0 means as fast as possible
	Samples int     // Samples per frame
	RSSI    int     // Mean RSSI in dBm, taken literally (0 is 0 dBm)
	Jitter  float64 // RSSI standard deviation in dB
	Noise   float64 // Per-sample standard deviation
	Count   int     // Frames to emit before stopping, 0 means unlimited
	Seed    uint64  // Noise seed, 0 picks one at random
}

// Simulator emits synthetic CSI frames from a goroutine locked to its OS
// thread, the way a driver callback runs on a dedicated context.
type Simulator struct {
	opts SimulatorOptions

	mu sync.Mutex
	cb Callback

	sent atomic.Uint64
}

// NewSimulator creates a simulator. Zero Samples and Seed are filled in;
// DefaultSimulatorRSSI is applied by the configuration layer, not here.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Samples <= 0 {
		opts.Samples = DefaultSimulatorSamples
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.Noise < 0 {
		opts.Noise = 0
	}
	if opts.Seed == 0 {
		opts.Seed = rand.Uint64()
	}
	return &Simulator{opts: opts}
}

// Name implements Driver.
func (s *Simulator) Name() string { return SourceSimulator }

// SetCallback implements Driver.
func (s *Simulator) SetCallback(cb Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

// Sent returns the number of events handed to the callback.
func (s *Simulator) Sent() uint64 {
	return s.sent.Load()
}

// Start runs the emit loop until ctx is done or Count frames were sent.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return errNoCallback
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	limit := rate.Inf
	if s.opts.Rate > 0 {
		limit = rate.Limit(s.opts.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	src := rand.New(rand.NewPCG(s.opts.Seed, s.opts.Seed^0x9e3779b97f4a7c15))
	noise := distuv.Normal{Mu: 0, Sigma: s.opts.Noise, Src: src}
	rssi := distuv.Normal{Mu: float64(s.opts.RSSI), Sigma: s.opts.Jitter, Src: src}

	// One buffer for the lifetime of the source, overwritten every frame.
	ev := &csi.Event{Len: s.opts.Samples, Buf: make([]int8, s.opts.Samples)}

	applog.Infof("Simulator: emitting %d-sample frames (rate: %s)", s.opts.Samples, rateString(s.opts.Rate))

	for seq := 0; s.opts.Count == 0 || seq < s.opts.Count; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		s.fill(ev, seq, noise, rssi)
		cb(ev)
		s.sent.Add(1)
	}

	applog.Infof("Simulator: emitted %d frames, source exhausted", s.opts.Count)
	return nil
}

// fill writes one frame: a slowly rotating subcarrier pattern plus noise.
func (s *Simulator) fill(ev *csi.Event, seq int, noise, rssi distuv.Normal) {
	n := len(ev.Buf)
	phase := float64(seq) * 0.05
	for i := range ev.Buf {
		v := 24*math.Sin(2*math.Pi*float64(i)/float64(n)+phase) + noise.Rand()
		ev.Buf[i] = clampInt8(v)
	}
	ev.RSSI = int(math.Round(math.Max(-127, math.Min(0, rssi.Rand()))))
	ev.Len = n
}

// Close implements Driver.
func (s *Simulator) Close() error {
	return nil
}

func clampInt8(v float64) int8 {
	switch {
	case v >= math.MaxInt8:
		return math.MaxInt8
	case v <= math.MinInt8:
		return math.MinInt8
	default:
		return int8(math.Round(v))
	}
}

func rateString(r float64) string {
	if r <= 0 {
		return "unlimited"
	}
	return strconv.FormatFloat(r, 'f', -1, 64) + "/s"
}
