// SPDX-License-Identifier: MIT
package sink

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"csi/internal/csi"
)

// Kinds of sink selectable from configuration.
const (
	KindText     = "text"
	KindDatagram = "udp"
)

var (
	// ErrNotReady is returned by Emit before the transport is initialized.
	ErrNotReady = csi.ErrNotReady
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("sink closed")
)

// Sink is a csi.Sink that owns a transport and must be closed.
type Sink interface {
	csi.Sink
	io.Closer
}

// Info describes an available sink for the list command.
type Info struct {
	Kind        string
	Description string
}

// Available returns the sinks this build can deliver to.
func Available() []Info {
	return []Info{
		{KindText, "comma-separated CSI_DATA lines on the console"},
		{KindDatagram, "raw sample bytes as one UDP datagram per frame"},
	}
}

// ParseKind normalizes a sink kind name.
func ParseKind(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindText, "console", "serial":
		return KindText, nil
	case KindDatagram, "datagram":
		return KindDatagram, nil
	default:
		return "", fmt.Errorf("unknown sink %q (want %q or %q)", kind, KindText, KindDatagram)
	}
}
