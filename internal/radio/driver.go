// SPDX-License-Identifier: MIT
//
// Package radio provides the sources of CSI events. A Driver stands in for
// the Wi-Fi driver: it owns a reusable event buffer and invokes the
// registered callback once per received frame, from its own goroutine.
package radio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"csi/internal/csi"
)

// Names of the available radio sources.
const (
	SourceSimulator = "simulator"
	SourceReplay    = "replay"
	SourceUDP       = "udp"
)

var errNoCallback = errors.New("radio: no callback registered")

// Callback receives one event per captured frame. The event and its buffer
// are only valid for the duration of the call.
type Callback func(ev *csi.Event)

// Driver is a source of CSI events.
type Driver interface {
	// SetCallback registers the frame callback. It must be called before Start.
	SetCallback(cb Callback)
	// Start delivers events until ctx is done or the source is exhausted.
	Start(ctx context.Context) error
	// Close releases the resources held by the driver.
	Close() error
	// Name identifies the source in logs.
	Name() string
}

// Options selects and configures a source.
type Options struct {
	Source    string
	Simulator SimulatorOptions
	Replay    ReplayOptions
	Datagram  DatagramOptions
}

// Info describes a source for the list command.
type Info struct {
	Name        string
	Description string
}

// Sources returns the radio sources this build can capture from.
func Sources() []Info {
	return []Info{
		{SourceSimulator, "synthetic CSI frames at a fixed rate (Gaussian subcarrier noise)"},
		{SourceReplay, "CSI_DATA records read back from a capture file"},
		{SourceUDP, "raw int8 payloads received as UDP datagrams (no RSSI)"},
	}
}

// New creates the driver selected by opts.Source.
func New(opts Options) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Source)) {
	case SourceSimulator, "":
		return NewSimulator(opts.Simulator), nil
	case SourceReplay:
		r, err := NewReplay(opts.Replay)
		if err != nil {
			return nil, err
		}
		return r, nil
	case SourceUDP:
		d, err := NewDatagram(opts.Datagram)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown radio source %q (want %q, %q or %q)", opts.Source, SourceSimulator, SourceReplay, SourceUDP)
	}
}
