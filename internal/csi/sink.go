// SPDX-License-Identifier: MIT
package csi

import "errors"

// ErrNotReady is returned by a Sink whose transport has not been set up yet.
// The frame is discarded like any other delivery failure.
var ErrNotReady = errors.New("sink not ready")

// Sink is the final destination of a delivered frame. Emit is called from the
// consumer goroutine only and must return quickly; the frame is released as
// soon as Emit returns, so implementations must not retain it.
type Sink interface {
	Emit(f *Frame) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(f *Frame) error

// Emit calls fn(f).
func (fn SinkFunc) Emit(f *Frame) error {
	return fn(f)
}
