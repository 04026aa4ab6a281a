package render

import (
	"math"
	"time"
)

// RateWindowSize is the number of ticks the scan rate is smoothed over.
const RateWindowSize = 60

// RateWindow computes the frame rate over the last RateWindowSize ticks.
// Every slot starts at the time the window was created, so the rate is
// meaningful from the first tick on.
type RateWindow struct {
	stamps [RateWindowSize]time.Time
	counts [RateWindowSize]int
	idx    int
	rate   int
}

// NewRateWindow creates a window with every slot set to now.
func NewRateWindow(now time.Time) *RateWindow {
	w := RateWindow{}
	w.Reset(now)
	return &w
}

// Reset sets every slot to now with a zero count.
func (w *RateWindow) Reset(now time.Time) {
	for i := range w.stamps {
		w.stamps[i] = now
		w.counts[i] = 0
	}
	w.idx = 0
	w.rate = 0
}

// Record stores count frames observed at now and returns the rate in frames
// per second: the sum of the counts of the last RateWindowSize ticks divided
// by the time elapsed since the tick RateWindowSize ticks ago.
func (w *RateWindow) Record(now time.Time, count int) int {
	elapsed := now.Sub(w.stamps[w.idx])
	if elapsed < time.Nanosecond {
		elapsed = time.Nanosecond
	}

	w.stamps[w.idx] = now
	w.counts[w.idx] = count
	w.idx = (w.idx + 1) % RateWindowSize

	sum := 0
	for _, c := range w.counts {
		sum += c
	}

	w.rate = int(math.Round(float64(sum) / elapsed.Seconds()))
	return w.rate
}

// Rate returns the rate computed by the last Record.
func (w *RateWindow) Rate() int {
	return w.rate
}
