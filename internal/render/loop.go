package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/frame"
)

var (
	// ErrNotSized is returned by Tick before the first Resize.
	ErrNotSized = errors.New("render loop has no surface")

	// ErrTornDown is returned by every operation after Teardown.
	ErrTornDown = errors.New("render loop torn down")
)

const (
	StateUninitialized LoopState = iota
	StateSized
	StateRunning
	StateTornDown
)

// LoopState is the render loop lifecycle state.
type LoopState uint8

func (s LoopState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSized:
		return "sized"
	case StateRunning:
		return "running"
	case StateTornDown:
		return "torn down"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Source hands out the frames received since the previous call without
// blocking. *frame.Receiver implements it.
type Source interface {
	Take() frame.Batch
}

// TickResult describes one redraw.
type TickResult struct {
	Rate    int
	Frames  int
	Readout Readout
}

// WithLoopLogger sets the logger for the render loop
func WithLoopLogger(logger *slog.Logger) func(l *Loop) {
	return func(l *Loop) {
		l.logger = logger.With(slog.String("component", "render-loop"))
	}
}

// WithDetector shows the readout of d, which must be fed every frame
// elsewhere (usually through frame.WithTap).
func WithDetector(d *Detector, mode DetectMode) func(l *Loop) {
	return func(l *Loop) {
		l.detector = d
		l.mode = mode
	}
}

// WithTheme sets the waterfall color theme
func WithTheme(theme ColorTheme) func(l *Loop) {
	return func(l *Loop) {
		l.theme = theme
	}
}

// WithShowPulses highlights detected pulses in the waterfall
func WithShowPulses(show bool) func(l *Loop) {
	return func(l *Loop) {
		l.showPulses = show
	}
}

// WithOnTick registers fn to be called after every tick of Run.
func WithOnTick(fn func(r TickResult)) func(l *Loop) {
	return func(l *Loop) {
		l.onTick = fn
	}
}

// Loop turns the frame stream into a waterfall surface with overlays. Tick
// never waits for frames: a tick without frames redraws the same surface
// and lets the scan rate decay.
type Loop struct {
	source    Source
	detector  *Detector
	annotator *Annotator

	mu        sync.Mutex
	state     LoopState
	waterfall *Waterfall
	surface   *image.RGBA
	window    *RateWindow
	last      TickResult

	mode       DetectMode
	theme      ColorTheme
	showPulses bool

	onTick func(r TickResult)
	logger *slog.Logger
}

// NewLoop creates a loop drawing frames from source. A nil source never
// delivers frames.
func NewLoop(source Source, options ...func(l *Loop)) (*Loop, error) {
	annotator, err := NewAnnotator()
	if err != nil {
		return nil, err
	}

	l := Loop{
		source:    source,
		annotator: annotator,
		mode:      DetectOff,
		theme:     NativeTheme,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&l)
	}

	return &l, nil
}

// Resize creates a fresh surface and rate window. Everything drawn so far is
// discarded.
func (l *Loop) Resize(width, height int, now time.Time) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateTornDown {
		return ErrTornDown
	}

	l.waterfall = NewWaterfall(width, height, NewColorMapper(l.theme, DefaultPowerBounds))
	l.surface = image.NewRGBA(image.Rect(0, 0, width, height))
	l.window = NewRateWindow(now)
	l.last = TickResult{Readout: Readout{BluetoothPower: math.NaN(), PulseFreq: math.NaN()}}
	l.state = StateSized

	l.logger.Debug("surface resized", slog.Int("width", width), slog.Int("height", height))

	return nil
}

// Tick takes whatever frames arrived, updates the rate and redraws the
// surface.
func (l *Loop) Tick(now time.Time) (TickResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateTornDown:
		return TickResult{}, ErrTornDown
	case StateUninitialized:
		return TickResult{}, ErrNotSized
	}

	var batch frame.Batch
	if l.source != nil {
		batch = l.source.Take()
	}

	if !batch.Empty() {
		var fresh, ended []Pulse
		if l.showPulses && l.detector != nil {
			fresh, ended = l.detector.Pulses()
		}
		l.waterfall.Push(batch.Latest, fresh, ended)
	}

	r := TickResult{
		Rate:    l.window.Record(now, batch.Count),
		Frames:  batch.Count,
		Readout: Readout{BluetoothPower: math.NaN(), PulseFreq: math.NaN()},
	}
	if l.detector != nil {
		r.Readout = l.detector.Readout()
	}

	if err := l.draw(r); err != nil {
		// a failed overlay leaves a plain waterfall; keep going
		l.logger.Warn("error drawing overlay", slog.String("error", err.Error()))
	}

	l.last = r
	l.state = StateRunning

	return r, nil
}

// draw must be called with mu held.
func (l *Loop) draw(r TickResult) error {
	copy(l.surface.Pix, l.waterfall.Image().Pix)

	o := Overlay{
		Rate:           r.Rate,
		CenterPos:      l.waterfall.CenterPos(),
		CenterFreq:     l.waterfall.CenterFreq(),
		Mode:           l.mode,
		BluetoothPower: r.Readout.BluetoothPower,
		PulseFreq:      r.Readout.PulseFreq,
	}
	for q := range o.Elapsed {
		if d, ok := l.waterfall.Elapsed(q + 1); ok {
			o.Elapsed[q] = d.Microseconds()
		}
	}

	return l.annotator.Annotate(l.surface, o)
}

// Run ticks until ctx is done or the loop is torn down. With fps > 0 ticks
// are paced by a ticker, otherwise the loop ticks back to back.
func (l *Loop) Run(ctx context.Context, fps int) error {
	tick := func() error {
		r, err := l.Tick(time.Now())
		if err != nil {
			return err
		}
		if l.onTick != nil {
			l.onTick(r)
		}
		return nil
	}

	done := func(err error) error {
		if errors.Is(err, ErrTornDown) {
			return nil
		}
		return err
	}

	if fps <= 0 {
		for ctx.Err() == nil {
			if err := tick(); err != nil {
				return done(err)
			}
			runtime.Gosched()
		}
		return nil
	}

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(); err != nil {
				return done(err)
			}
		}
	}
}

// SetShowPulses toggles pulse highlighting for the rows drawn from now on.
func (l *Loop) SetShowPulses(show bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.showPulses = show
}

// SetTheme changes the color theme for the rows drawn from now on.
func (l *Loop) SetTheme(theme ColorTheme) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.theme = theme
	if l.waterfall != nil {
		l.waterfall.SetColors(NewColorMapper(theme, DefaultPowerBounds))
	}
}

// State returns the lifecycle state.
func (l *Loop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Last returns the result of the latest tick.
func (l *Loop) Last() TickResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.last
}

// Snapshot returns a copy of the surface as of the latest tick.
func (l *Loop) Snapshot() (*image.RGBA, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateTornDown:
		return nil, ErrTornDown
	case StateUninitialized:
		return nil, ErrNotSized
	}

	img := image.NewRGBA(l.surface.Bounds())
	copy(img.Pix, l.surface.Pix)

	return img, nil
}

// Waterfall calls fn with the plot (without overlays) under the loop lock.
func (l *Loop) Waterfall(fn func(img *image.RGBA)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.waterfall != nil {
		fn(l.waterfall.Image())
	}
}

// Teardown releases the surface. The loop cannot be used afterwards.
func (l *Loop) Teardown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateTornDown {
		return nil
	}

	l.state = StateTornDown
	l.surface = nil
	l.waterfall = nil
	l.window = nil

	l.logger.Debug("render loop torn down")

	return l.annotator.Close()
}
