// SPDX-License-Identifier: MIT
package radio

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"csi/internal/csi"
	"csi/internal/sink"
)

// startDatagram runs d.Start on its own goroutine and returns a stop func
// that cancels it and reports Start's result.
func startDatagram(t *testing.T, d *Datagram) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Start() did not return after cancel")
			return nil
		}
	}
}

func newTestDatagram(t *testing.T) *Datagram {
	t.Helper()
	d, err := NewDatagram(DatagramOptions{Listen: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewDatagram() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDatagramReceivesRawSamples(t *testing.T) {
	d := newTestDatagram(t)

	var mu sync.Mutex
	var c capture
	d.SetCallback(func(ev *csi.Event) {
		mu.Lock()
		c.callback(ev)
		mu.Unlock()
	})
	stop := startDatagram(t, d)

	conn, err := net.DialUDP("udp", nil, d.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{0x01, 0xFE, 0x7F, 0x80}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	waitForSent(t, d, 1)
	if err := stop(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int8{1, -2, 127, -128}
	if len(c.samples) != 1 || len(c.samples[0]) != len(want) {
		t.Fatalf("received %v, want one frame of %v", c.samples, want)
	}
	for i, v := range want {
		if c.samples[0][i] != v {
			t.Errorf("sample %d = %d, want %d", i, c.samples[0][i], v)
		}
	}
	if c.rssi[0] != 0 {
		t.Errorf("rssi = %d, want 0 (not carried on the wire)", c.rssi[0])
	}
}

func TestDatagramFromDatagramSink(t *testing.T) {
	d := newTestDatagram(t)

	var mu sync.Mutex
	var got [][]int8
	d.SetCallback(func(ev *csi.Event) {
		mu.Lock()
		got = append(got, append([]int8(nil), ev.Buf[:ev.Len]...))
		mu.Unlock()
	})
	stop := startDatagram(t, d)

	out, err := sink.DialDatagramSink(d.Addr().String())
	if err != nil {
		t.Fatalf("DialDatagramSink() error = %v", err)
	}
	defer out.Close()

	for seq := range 3 {
		f := csi.NewFrame(-50, []int8{int8(seq), -1, 2})
		if err := out.Emit(f); err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}

	waitForSent(t, d, 3)
	if err := stop(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range got {
		if len(s) != 3 || int(s[0]) != i || s[1] != -1 || s[2] != 2 {
			t.Errorf("frame %d = %v", i, s)
		}
	}
}

func TestDatagramIgnoresEmptyPayloads(t *testing.T) {
	d := newTestDatagram(t)
	d.SetCallback(func(*csi.Event) {})
	stop := startDatagram(t, d)

	conn, err := net.DialUDP("udp", nil, d.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer conn.Close()
	conn.Write(nil)
	conn.Write([]byte{5})

	waitForSent(t, d, 1)
	if err := stop(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if d.Empty() != 1 {
		t.Errorf("Empty() = %d, want 1", d.Empty())
	}
}

func TestDatagramStopsOnClose(t *testing.T) {
	d, err := NewDatagram(DatagramOptions{Listen: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewDatagram() error = %v", err)
	}
	d.SetCallback(func(*csi.Event) {})

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	d.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() still blocked after Close")
	}
}

func waitForSent(t *testing.T, d *Datagram, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.Sent() < n {
		if time.Now().After(deadline) {
			t.Fatalf("received %d datagrams, want %d", d.Sent(), n)
		}
		time.Sleep(time.Millisecond)
	}
}
