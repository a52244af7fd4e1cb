// SPDX-License-Identifier: MIT
package radio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"csi/internal/csi"
	applog "csi/internal/log"

	"golang.org/x/time/rate"
)

// recordLineLimit bounds one CSI_DATA line: marker, rssi, length and up to
// maxSamples fields of at most five bytes each (",-128").
func recordLineLimit(maxSamples int) int {
	return 64 + 5*maxSamples
}

// ReplayOptions configures the replay source.
type ReplayOptions struct {
	Path       string  // Capture file of CSI_DATA lines
	Loop       bool    // Rewind at end of file instead of stopping
	Rate       float64 // Frames per second, <= 0 means as fast as possible
	MaxSamples int     // Largest record accepted, 0 means csi.DefaultMaxSamples
}

// Replay re-delivers a text capture through the driver callback. Lines that
// are not CSI records (firmware boot logs, truncated writes) are skipped.
type Replay struct {
	opts ReplayOptions
	file *os.File

	mu sync.Mutex
	cb Callback

	sent    atomic.Uint64
	skipped atomic.Uint64
}

// NewReplay opens the capture file.
func NewReplay(opts ReplayOptions) (*Replay, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("replay: capture file path is required")
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = csi.DefaultMaxSamples
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("replay: failed to open capture: %w", err)
	}
	return &Replay{opts: opts, file: f}, nil
}

// Name implements Driver.
func (r *Replay) Name() string { return SourceReplay }

// SetCallback implements Driver.
func (r *Replay) SetCallback(cb Callback) {
	r.mu.Lock()
	r.cb = cb
	r.mu.Unlock()
}

// Sent returns the number of records handed to the callback.
func (r *Replay) Sent() uint64 { return r.sent.Load() }

// Skipped returns the number of lines that did not parse as records,
// including lines longer than any record could be.
func (r *Replay) Skipped() uint64 { return r.skipped.Load() }

// Start replays the file until ctx is done or the file is exhausted.
func (r *Replay) Start(ctx context.Context) error {
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()
	if cb == nil {
		return errNoCallback
	}

	limit := rate.Inf
	if r.opts.Rate > 0 {
		limit = rate.Limit(r.opts.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	ev := &csi.Event{Buf: make([]int8, 0, r.opts.MaxSamples)}
	applog.Infof("Replay: reading %s (loop: %v, rate: %s)", r.opts.Path, r.opts.Loop, rateString(r.opts.Rate))

	for pass := 1; ; pass++ {
		n, err := r.replayOnce(ctx, limiter, ev, cb)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if !r.opts.Loop || n == 0 {
			break
		}
		if _, err := r.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("replay: rewind failed: %w", err)
		}
		applog.Debugf("Replay: pass %d done, rewinding", pass)
	}

	applog.Infof("Replay: source exhausted (%d frames, %d lines skipped)", r.sent.Load(), r.skipped.Load())
	return nil
}

// replayOnce reads the file from the current offset to EOF. Lines that do not
// fit the reader are discarded up to the next newline and counted as skipped.
func (r *Replay) replayOnce(ctx context.Context, limiter *rate.Limiter, ev *csi.Event, cb Callback) (int, error) {
	rd := bufio.NewReaderSize(r.file, recordLineLimit(r.opts.MaxSamples))

	var frames int
	for {
		line, err := rd.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			r.skipped.Add(1)
			applog.Debugf("Replay: skipping line longer than %d bytes", rd.Size())
			if err := discardLine(rd); err != nil {
				if errors.Is(err, io.EOF) {
					return frames, nil
				}
				return frames, fmt.Errorf("replay: read failed: %w", err)
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return frames, fmt.Errorf("replay: read failed: %w", err)
		}
		eof := err != nil

		if text := strings.TrimSpace(string(line)); text != "" {
			rssi, samples, perr := csi.ParseRecord(text, ev.Buf[:0])
			if perr != nil {
				r.skipped.Add(1)
				applog.Debugf("Replay: skipping line: %v", perr)
			} else {
				if err := limiter.Wait(ctx); err != nil {
					return frames, err
				}
				ev.RSSI, ev.Len, ev.Buf = rssi, len(samples), samples
				cb(ev)
				r.sent.Add(1)
				frames++
			}
		}
		if eof {
			return frames, nil
		}
	}
}

// discardLine consumes rd up to and including the next newline.
func discardLine(rd *bufio.Reader) error {
	for {
		_, err := rd.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// Close implements Driver.
func (r *Replay) Close() error {
	return r.file.Close()
}
