// SPDX-License-Identifier: MIT
package sink

import (
	"io"

	"csi/internal/csi"
	applog "csi/internal/log"
)

// TextSink renders every frame as one CSI_DATA line on a console-like writer.
// It is driven by the single consumer goroutine and is not safe for
// concurrent Emit calls.
type TextSink struct {
	w    io.Writer
	line []byte // Reused line buffer, grows to the largest record seen
}

// NewTextSink creates a TextSink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	applog.Infof("Sink: Using TextSink")
	return &TextSink{
		w:    w,
		line: make([]byte, 0, 16+4*csi.DefaultMaxSamples),
	}
}

// Emit writes the text record of f. The console is treated as always
// writable, so Emit never reports a failure.
func (t *TextSink) Emit(f *csi.Frame) error {
	t.line = csi.AppendRecord(t.line[:0], f.RSSI, f.Samples)
	_, _ = t.w.Write(t.line)
	return nil
}

// Close is a no-op; the writer belongs to the caller.
func (t *TextSink) Close() error {
	applog.Debugf("Sink: TextSink closed")
	return nil
}

// Ensure TextSink satisfies the interface at compile time.
var _ Sink = (*TextSink)(nil)
