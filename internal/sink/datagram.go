// SPDX-License-Identifier: MIT
package sink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"csi/internal/csi"
	applog "csi/internal/log"
)

// DatagramSink sends the raw sample bytes of every frame as a single UDP
// datagram to a fixed peer. No header, no framing: the peer infers the sample
// count from the datagram length.
//
// The sink starts out not ready. Until Dial succeeds Emit returns ErrNotReady
// immediately, which lets capture start before the peer address resolves.
type DatagramSink struct {
	target string

	mu      sync.Mutex // Protects conn, closed and payload
	conn    *net.UDPConn
	closed  bool
	payload []byte // Reused datagram buffer
}

// NewDatagramSink creates a sink for targetAddress ("host:port"). No socket
// is opened until Dial.
func NewDatagramSink(targetAddress string) *DatagramSink {
	return &DatagramSink{
		target:  targetAddress,
		payload: make([]byte, 0, csi.DefaultMaxSamples),
	}
}

// DialDatagramSink creates a sink and dials it immediately.
func DialDatagramSink(targetAddress string) (*DatagramSink, error) {
	s := NewDatagramSink(targetAddress)
	if err := s.Dial(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dial resolves the target and opens the UDP socket. Calling Dial on a ready
// sink is a no-op.
func (s *DatagramSink) Dial() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.target)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP target address '%s': %w", s.target, err)
	}

	// No need to bind a specific local port for sending.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("failed to dial UDP for target '%s': %w", s.target, err)
	}
	s.conn = conn

	applog.Infof("Sink: DatagramSink streaming CSI to %s", conn.RemoteAddr())
	return nil
}

// DialLoop retries Dial every interval until it succeeds or ctx is done.
// Frames emitted in the meantime are discarded as not ready.
func (s *DatagramSink) DialLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := s.Dial()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return nil
		}
		applog.Warnf("Sink: DatagramSink not ready, retrying in %s: %v", interval, err)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Ready reports whether the socket has been opened.
func (s *DatagramSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.closed
}

// Emit sends the samples of f as one datagram. UDP writes do not wait for
// the peer, so Emit returns as soon as the kernel accepts or refuses the
// packet. Failures are returned and never retried.
func (s *DatagramSink) Emit(f *csi.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return ErrNotReady
	}

	s.payload = appendSampleBytes(s.payload[:0], f.Samples)
	if _, err := s.conn.Write(s.payload); err != nil {
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return nil
}

// Close closes the underlying UDP connection.
func (s *DatagramSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		applog.Infof("Sink: Closing connection to %s", s.conn.RemoteAddr())
		err := s.conn.Close()
		s.conn = nil
		if err != nil {
			return fmt.Errorf("failed to close UDP connection: %w", err)
		}
	}
	return nil
}

// appendSampleBytes appends the two's-complement byte of every sample.
func appendSampleBytes(dst []byte, samples []int8) []byte {
	for _, v := range samples {
		dst = append(dst, byte(v))
	}
	return dst
}

// Ensure DatagramSink satisfies the interface at compile time.
var _ Sink = (*DatagramSink)(nil)
