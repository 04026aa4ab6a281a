// Package sim implements a scan engine that synthesizes spectral scans in
// process. It stands in for the native scanner on hosts without a capable
// wireless card.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/frame"
	"github.com/roman-kulish/spectral-scan/internal/scan"
)

const (
	// ScanPeriod is the simulated scanner time between two scans.
	ScanPeriod = 50 * time.Microsecond

	// TickInterval is how often a batch of scans is emitted.
	TickInterval = time.Millisecond

	// HopInterval is how long the access point stays on one frequency.
	HopInterval = time.Second
)

var ErrAlreadyRunning = errors.New("simulated scan is already running")

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) func(e *Engine) {
	return func(e *Engine) {
		e.logger = logger.With(slog.String("component", "sim-engine"))
	}
}

// WithHopInterval sets how long the access point stays on one frequency
func WithHopInterval(d time.Duration) func(e *Engine) {
	return func(e *Engine) {
		e.hopInterval = d
	}
}

// WithTickInterval sets how often scans are emitted
func WithTickInterval(d time.Duration) func(e *Engine) {
	return func(e *Engine) {
		e.tickInterval = d
	}
}

// WithBurst enables or disables the hopping narrowband burst
func WithBurst(enabled bool) func(e *Engine) {
	return func(e *Engine) {
		e.burst = enabled
	}
}

// Engine is a scan.Engine producing synthetic scans: a noise floor, an access
// point carrier on the current frequency and a hopping narrowband burst.
type Engine struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	emitter *frame.Emitter
	running bool
	seed    int64

	hopInterval  time.Duration
	tickInterval time.Duration
	burst        bool
	logger       *slog.Logger
}

var _ scan.Engine = (*Engine)(nil)

// NewEngine creates a stopped engine.
func NewEngine(options ...func(e *Engine)) *Engine {
	e := Engine{
		hopInterval:  HopInterval,
		tickInterval: TickInterval,
		burst:        true,
		seed:         time.Now().UnixNano(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// Start begins emitting scans of c to the frame channel at address.
func (e *Engine) Start(c scan.Config, address string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	if err := c.Validate(); err != nil {
		return err
	}

	emitter, err := frame.StartEmitting(address, frame.WithEmitterLogger(e.logger))
	if err != nil {
		return fmt.Errorf("error creating frame emitter: %w", err)
	}

	var ctx context.Context
	ctx, e.cancel = context.WithCancel(context.Background())
	e.emitter = emitter
	e.running = true
	e.seed++

	e.wg.Add(1)
	go e.run(ctx, c, newSynth(c.BinCount(), e.burst, e.seed))

	e.logger.Info("simulated scan started", slog.String("config", c.String()))

	return nil
}

// Stop ends the scan and returns once no more scans are emitted.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil // already stopped
	}

	e.cancel()
	e.wg.Wait()
	e.running = false

	st := e.emitter.Stats()
	e.logger.Info("simulated scan stopped",
		slog.Uint64("sent", st.Sent),
		slog.Uint64("dropped", st.Dropped),
	)

	return e.emitter.Close()
}

func (e *Engine) run(ctx context.Context, c scan.Config, s *synth) {
	defer e.wg.Done()

	freqs := c.Frequencies()
	started := time.Now()

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	// scanner clock in µs
	var clock int64
	perTick := max(1, int(e.tickInterval/ScanPeriod))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		hop := 0
		if e.hopInterval > 0 {
			hop = int(time.Since(started)/e.hopInterval) % len(freqs)
		}
		centerFreq := uint16(freqs[hop])

		for i := 0; i < perTick; i++ {
			if ctx.Err() != nil {
				return
			}

			clock += ScanPeriod.Microseconds()
			// a missing receiver is not an error, the scan goes on
			_ = e.emitter.Emit(s.scan(centerFreq, clock))
		}
	}
}
