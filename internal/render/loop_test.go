package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/frame"
)

type fakeSource struct {
	mu      sync.Mutex
	batches []frame.Batch
}

func (s *fakeSource) push(b frame.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
}

func (s *fakeSource) Take() frame.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.batches) == 0 {
		return frame.Batch{}
	}

	b := s.batches[0]
	s.batches = s.batches[1:]
	return b
}

func newTestLoop(t *testing.T, src Source, options ...func(l *Loop)) *Loop {
	t.Helper()

	l, err := NewLoop(src, options...)
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Teardown() })

	return l
}

func TestLoop_Lifecycle(t *testing.T) {
	l := newTestLoop(t, &fakeSource{})

	if l.State() != StateUninitialized {
		t.Fatalf("Expected uninitialized, got %s", l.State())
	}
	if _, err := l.Tick(time.Now()); !errors.Is(err, ErrNotSized) {
		t.Errorf("Expected ErrNotSized, got %v", err)
	}

	now := time.Now()
	if err := l.Resize(256, 120, now); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if l.State() != StateSized {
		t.Fatalf("Expected sized, got %s", l.State())
	}

	if _, err := l.Tick(now.Add(time.Millisecond)); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if l.State() != StateRunning {
		t.Fatalf("Expected running, got %s", l.State())
	}

	if err := l.Teardown(); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if _, err := l.Tick(now); !errors.Is(err, ErrTornDown) {
		t.Errorf("Expected ErrTornDown, got %v", err)
	}
	if err := l.Resize(10, 10, now); !errors.Is(err, ErrTornDown) {
		t.Errorf("Expected ErrTornDown on resize, got %v", err)
	}
	if err := l.Teardown(); err != nil {
		t.Errorf("second Teardown failed: %v", err)
	}
}

func TestLoop_NoSignal(t *testing.T) {
	for _, src := range []Source{nil, &fakeSource{}} {
		l := newTestLoop(t, src)

		start := time.Now()
		if err := l.Resize(128, 64, start); err != nil {
			t.Fatalf("Resize failed: %v", err)
		}

		for i := 1; i <= 10; i++ {
			r, err := l.Tick(start.Add(time.Duration(i) * time.Millisecond))
			if err != nil {
				t.Fatalf("Tick failed: %v", err)
			}
			if r.Rate != 0 || r.Frames != 0 {
				t.Fatalf("Expected an idle tick, got %+v", r)
			}
			if !math.IsNaN(r.Readout.BluetoothPower) {
				t.Errorf("Expected no readout, got %+v", r.Readout)
			}
		}
	}
}

func TestLoop_RateAndDecay(t *testing.T) {
	src := &fakeSource{}
	l := newTestLoop(t, src)

	start := time.Now()
	if err := l.Resize(128, 64, start); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	now := start
	f := frame.Frame{CenterFreq: 2437, Bins: noise(64)}
	for i := 0; i < RateWindowSize; i++ {
		src.push(frame.Batch{Latest: f, Count: 4})
		now = now.Add(20 * time.Millisecond)

		r, err := l.Tick(now)
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if r.Rate != 200 {
			t.Fatalf("tick %d: expected 200 scans/s, got %d", i, r.Rate)
		}
	}

	for i := 0; i < RateWindowSize; i++ {
		now = now.Add(20 * time.Millisecond)
		if _, err := l.Tick(now); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}

	if r := l.Last(); r.Rate != 0 {
		t.Errorf("Expected rate to decay to 0, got %d", r.Rate)
	}
}

func TestLoop_DrawsNewestRowOnTop(t *testing.T) {
	src := &fakeSource{}
	l := newTestLoop(t, src, WithTheme(GrayscaleTheme))

	now := time.Now()
	if err := l.Resize(64, 32, now); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	quiet := frame.Frame{CenterFreq: 2412, Timestamp: 0, Bins: noise(32)}
	loud := frame.Frame{CenterFreq: 2412, Timestamp: 1000, Bins: make([]int8, 32)}
	for i := range loud.Bins {
		loud.Bins[i] = -20
	}

	src.push(frame.Batch{Latest: quiet, Count: 1})
	src.push(frame.Batch{Latest: loud, Count: 1})

	for i := 0; i < 2; i++ {
		now = now.Add(10 * time.Millisecond)
		if _, err := l.Tick(now); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
	}

	var top, second color.RGBA
	l.Waterfall(func(img *image.RGBA) {
		top = img.RGBAAt(10, 0)
		second = img.RGBAAt(10, 1)
	})

	if top.R <= second.R {
		t.Errorf("Expected the loud scan on top: top %v, second %v", top, second)
	}

	snap, err := l.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Bounds().Dx() != 64 || snap.Bounds().Dy() != 32 {
		t.Errorf("unexpected snapshot size %v", snap.Bounds())
	}
}

func TestLoop_Run(t *testing.T) {
	src := &fakeSource{}

	var (
		mu    sync.Mutex
		ticks int
	)
	l := newTestLoop(t, src, WithOnTick(func(r TickResult) {
		mu.Lock()
		ticks++
		mu.Unlock()
	}))

	if err := l.Resize(32, 32, time.Now()); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx, 200); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ticks == 0 {
		t.Error("Expected Run to tick")
	}
}

func TestLoop_RunStopsOnTeardown(t *testing.T) {
	l := newTestLoop(t, nil)

	if err := l.Resize(32, 32, time.Now()); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.Run(context.Background(), 0)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := l.Teardown(); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after teardown")
	}
}
