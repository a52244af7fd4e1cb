// SPDX-License-Identifier: MIT
package radio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"csi/internal/csi"
	applog "csi/internal/log"
)

// DefaultDatagramListen is the port the ESP32 logger firmware sends to.
const DefaultDatagramListen = "0.0.0.0:12345"

// maxDatagramPayload is the largest UDP payload over IPv4.
const maxDatagramPayload = 65507

// DatagramOptions configures the UDP source.
type DatagramOptions struct {
	Listen string // host:port to bind, empty means DefaultDatagramListen
}

// Datagram receives raw CSI payloads, one frame per datagram, as sent by a
// DatagramSink or the ESP32 UDP logger. Every byte is one signed sample. The
// wire format carries no RSSI, so events report 0.
type Datagram struct {
	conn *net.UDPConn

	mu sync.Mutex
	cb Callback

	sent  atomic.Uint64
	empty atomic.Uint64
}

// NewDatagram binds the listen address.
func NewDatagram(opts DatagramOptions) (*Datagram, error) {
	if opts.Listen == "" {
		opts.Listen = DefaultDatagramListen
	}
	addr, err := net.ResolveUDPAddr("udp", opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("udp source: invalid listen address %q: %w", opts.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp source: failed to listen on %s: %w", opts.Listen, err)
	}
	return &Datagram{conn: conn}, nil
}

// Name implements Driver.
func (d *Datagram) Name() string { return SourceUDP }

// Addr returns the bound local address.
func (d *Datagram) Addr() net.Addr { return d.conn.LocalAddr() }

// SetCallback implements Driver.
func (d *Datagram) SetCallback(cb Callback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// Sent returns the number of datagrams handed to the callback.
func (d *Datagram) Sent() uint64 { return d.sent.Load() }

// Empty returns the number of zero-length datagrams ignored.
func (d *Datagram) Empty() uint64 { return d.empty.Load() }

// Start receives until ctx is done. A UDP source is never exhausted.
func (d *Datagram) Start(ctx context.Context) error {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return errNoCallback
	}

	// Unblock the pending read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		d.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagramPayload)
	ev := &csi.Event{Buf: make([]int8, maxDatagramPayload)}

	applog.Infof("UDP source: listening on %s", d.conn.LocalAddr())

	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				applog.Infof("UDP source: stopped (%d frames)", d.sent.Load())
				return nil
			}
			return fmt.Errorf("udp source: read failed: %w", err)
		}
		if n == 0 {
			d.empty.Add(1)
			applog.Debugf("UDP source: empty datagram from %s", from)
			continue
		}

		for i, b := range buf[:n] {
			ev.Buf[i] = int8(b)
		}
		ev.RSSI, ev.Len = 0, n
		cb(ev)
		d.sent.Add(1)
	}
}

// Close implements Driver.
func (d *Datagram) Close() error {
	return d.conn.Close()
}
