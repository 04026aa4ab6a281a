package render

import (
	"testing"
	"time"
)

func TestRateWindow_ConstantRate(t *testing.T) {
	tests := []struct {
		name  string
		count int
		tick  time.Duration
		want  int
	}{
		{"60 fps one frame", 1, time.Second / 60, 60},
		{"10 ms three frames", 3, 10 * time.Millisecond, 300},
		{"slow ticks", 5, 500 * time.Millisecond, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			w := NewRateWindow(start)

			now := start
			for i := 1; i <= 2*RateWindowSize; i++ {
				now = now.Add(tt.tick)

				if got := w.Record(now, tt.count); got != tt.want {
					t.Fatalf("tick %d: expected %d/s, got %d", i, tt.want, got)
				}
			}
		})
	}
}

func TestRateWindow_FirstTickSameInstant(t *testing.T) {
	now := time.Now()
	w := NewRateWindow(now)

	// zero elapsed time must not divide by zero
	if got := w.Record(now, 0); got != 0 {
		t.Errorf("Expected 0 with no frames, got %d", got)
	}
	if got := w.Record(now, 1); got <= 0 {
		t.Errorf("Expected a positive rate, got %d", got)
	}
}

func TestRateWindow_DecaysToZero(t *testing.T) {
	start := time.Now()
	w := NewRateWindow(start)

	now := start
	for i := 0; i < RateWindowSize; i++ {
		now = now.Add(10 * time.Millisecond)
		w.Record(now, 2)
	}
	if w.Rate() != 200 {
		t.Fatalf("Expected 200/s, got %d", w.Rate())
	}

	prev := w.Rate()
	for i := 0; i < RateWindowSize; i++ {
		now = now.Add(10 * time.Millisecond)
		rate := w.Record(now, 0)
		if rate > prev {
			t.Fatalf("rate increased without frames: %d > %d", rate, prev)
		}
		prev = rate
	}

	if w.Rate() != 0 {
		t.Errorf("Expected rate to reach 0, got %d", w.Rate())
	}
}
