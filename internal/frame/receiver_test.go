package frame

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func openTestChannel(t *testing.T) (*Receiver, *Emitter) {
	t.Helper()

	addr, err := NewAddress(t.TempDir())
	if err != nil {
		t.Fatalf("NewAddress failed: %v", err)
	}

	r, err := Open(addr)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	e, err := StartEmitting(addr, WithWriteTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("StartEmitting failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	return r, e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReceiver_LatestWins(t *testing.T) {
	r, e := openTestChannel(t)

	for i := 1; i <= 3; i++ {
		if err := e.Emit(Frame{CenterFreq: 2412, Timestamp: int32(i), Bins: []int8{-90, -80}}); err != nil {
			t.Fatalf("Emit %d failed: %v", i, err)
		}
	}

	waitFor(t, func() bool { return r.Stats().Received == 3 })

	b := r.Take()
	if b.Count != 3 {
		t.Errorf("Expected 3 frames since last take, got %d", b.Count)
	}
	if b.Latest.Timestamp != 3 {
		t.Errorf("Expected latest frame, got timestamp %d", b.Latest.Timestamp)
	}
	if st := r.Stats(); st.Dropped != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", st.Dropped)
	}

	if b := r.Take(); !b.Empty() {
		t.Errorf("Expected empty batch, got %+v", b)
	}
}

func TestReceiver_InvalidDatagram(t *testing.T) {
	r, e := openTestChannel(t)

	if err := e.Forward([]byte("not a frame")); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if err := e.Emit(Frame{CenterFreq: 5180, Bins: []int8{-70}}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, ok := r.Next(ctx)
	if !ok {
		t.Fatal("Expected a frame")
	}
	if f.CenterFreq != 5180 {
		t.Errorf("Expected 5180 MHz frame, got %d", f.CenterFreq)
	}
	if st := r.Stats(); st.Invalid != 1 {
		t.Errorf("Expected 1 invalid datagram, got %d", st.Invalid)
	}
}

func TestReceiver_NextNoData(t *testing.T) {
	r, _ := openTestChannel(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := r.Next(ctx); ok {
		t.Error("Expected no data")
	}
}

func TestReceiver_Tap(t *testing.T) {
	addr, err := NewAddress(t.TempDir())
	if err != nil {
		t.Fatalf("NewAddress failed: %v", err)
	}

	seen := make(chan int32, 10)
	r, err := Open(addr, WithTap(func(f Frame) { seen <- f.Timestamp }))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	e, _ := StartEmitting(addr)
	defer e.Close()

	for i := int32(1); i <= 3; i++ {
		_ = e.Emit(Frame{CenterFreq: 2412, Timestamp: i})
	}

	for want := int32(1); want <= 3; want++ {
		select {
		case got := <-seen:
			if got != want {
				t.Fatalf("Expected frame %d, got %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", want)
		}
	}
}

func TestEmitter_RendererComesLater(t *testing.T) {
	addr, err := NewAddress(t.TempDir())
	if err != nil {
		t.Fatalf("NewAddress failed: %v", err)
	}

	e, err := StartEmitting(addr)
	if err != nil {
		t.Fatalf("StartEmitting failed: %v", err)
	}
	defer e.Close()

	if err := e.Emit(Frame{CenterFreq: 2412}); err == nil {
		t.Fatal("Expected emit to fail with nobody listening")
	}

	r, err := Open(addr)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if err := e.Emit(Frame{CenterFreq: 2417}); err != nil {
		t.Fatalf("Emit after open failed: %v", err)
	}

	waitFor(t, func() bool { return r.Stats().Received == 1 })

	if st := e.Stats(); st.Sent != 1 || st.Dropped != 1 {
		t.Errorf("unexpected emitter stats: %+v", st)
	}
}

func TestReceiver_Close(t *testing.T) {
	r, _ := openTestChannel(t)

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := os.Stat(r.Address()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file should be removed, got %v", err)
	}

	if _, ok := r.Next(context.Background()); ok {
		t.Error("Next on a closed receiver must report no data")
	}
}

func TestOpen_Unavailable(t *testing.T) {
	if _, err := Open("/nonexistent-dir/frames.sock"); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Expected ErrChannelUnavailable, got %v", err)
	}
}

// failingConn fails every read until closed.
type failingConn struct {
	reads  atomic.Int64
	closed chan struct{}
}

func (c *failingConn) Read(b []byte) (int, error) {
	c.reads.Add(1)
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
		return 0, errors.New("connection refused")
	}
}

func (c *failingConn) Close() error {
	close(c.closed)
	return nil
}

func TestReceiver_ReadErrorBackoff(t *testing.T) {
	conn := &failingConn{closed: make(chan struct{})}
	r := Receiver{
		path:        filepath.Join(t.TempDir(), "frames.sock"),
		conn:        conn,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		readBackoff: 20 * time.Millisecond,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	r.wg.Add(1)
	go r.receive()

	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Close waited %s for the backoff", d)
	}

	// about 10 reads in 200ms, not a busy loop
	if n := conn.reads.Load(); n > 30 {
		t.Errorf("Expected failed reads to back off, got %d reads", n)
	}
	if st := r.Stats(); st.Received != 0 || st.Invalid != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}
