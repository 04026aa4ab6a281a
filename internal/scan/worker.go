package scan

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// StopRetryDelay is the pause between the first failed engine stop and
	// the retry.
	StopRetryDelay = 50 * time.Millisecond
)

const (
	StateStopped State = iota
	StateRunning
)

// State is the lifecycle state of the scan engine as seen by the worker.
type State uint8

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Status is a snapshot of the worker.
type Status struct {
	State  State
	Config Config
	Bound  bool
}

// WithLogger sets the logger for the worker
func WithLogger(logger *slog.Logger) func(w *Worker) {
	return func(w *Worker) {
		w.logger = logger.With(slog.String("component", "scan-worker"))
	}
}

// WithStopRetryDelay sets the delay before a failed engine stop is retried
func WithStopRetryDelay(d time.Duration) func(w *Worker) {
	return func(w *Worker) {
		w.stopRetryDelay = d
	}
}

// Worker owns the lifecycle of a scan engine. It applies Pause and
// Reconfigure commands in the order they are handled and guarantees that at
// most one scan runs at a time: a stop always completes before the next
// start is issued.
type Worker struct {
	engine  Engine
	address string

	mu      sync.Mutex
	bound   bool
	unbound bool
	state   State
	config  Config

	stopRetryDelay time.Duration
	logger         *slog.Logger
}

// NewWorker creates a worker driving engine, emitting frames to address.
func NewWorker(engine Engine, address string, options ...func(w *Worker)) *Worker {
	w := Worker{
		engine:         engine,
		address:        address,
		stopRetryDelay: StopRetryDelay,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&w)
	}

	return &w
}

// Bind attaches the worker and starts the engine with the initial
// configuration. The worker is bound even if the configuration is rejected
// or the engine fails to start: it stays Stopped and returns ErrInvalidConfig
// or ErrEngineStartFailed, and a later Reconfigure or Pause can recover it.
func (w *Worker) Bind(initial Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unbound {
		return ErrNotBound
	}
	if w.bound {
		return ErrAlreadyBound
	}

	w.bound = true

	if err := w.validate(initial); err != nil {
		w.logger.Warn("worker bound without a usable configuration", slog.String("error", err.Error()))
		return err
	}

	w.config = initial

	w.logger.Info("worker bound", slog.String("config", initial.String()))

	return w.start()
}

// Handle applies a single control command.
func (w *Worker) Handle(cmd Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.bound || w.unbound {
		return ErrNotBound
	}

	switch cmd.Kind {
	case CommandPause:
		return w.togglePause()
	case CommandReconfigure:
		return w.reconfigure(cmd.Config)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
}

// Unbind stops a running engine and detaches the worker. It is idempotent:
// only the first call may stop the engine.
func (w *Worker) Unbind() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.unbound {
		return nil
	}

	w.unbound = true

	var err error
	if w.state == StateRunning {
		err = w.stop()
	}

	w.logger.Info("worker unbound")

	return err
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

// Status returns a consistent snapshot of the worker.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Status{
		State:  w.state,
		Config: w.config,
		Bound:  w.bound && !w.unbound,
	}
}

func (w *Worker) togglePause() error {
	if w.state == StateRunning {
		w.logger.Info("pausing scan")
		return w.stop()
	}

	w.logger.Info("resuming scan", slog.String("config", w.config.String()))
	return w.start()
}

func (w *Worker) reconfigure(c Config) error {
	if err := w.validate(c); err != nil {
		return err
	}

	w.logger.Info("reconfiguring scan",
		slog.String("config", c.String()),
		slog.String("state", w.state.String()),
	)

	wasRunning := w.state == StateRunning
	w.config = c

	if !wasRunning {
		return nil
	}

	if err := w.stop(); err != nil {
		// the previous scan may still be emitting; do not start a second one
		return err
	}

	return w.start()
}

func (w *Worker) validate(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if rc, ok := w.engine.(RangeChecker); ok {
		if err := rc.CheckRange(c); err != nil {
			if errors.Is(err, ErrInvalidConfig) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return nil
}

// start must be called with mu held.
func (w *Worker) start() error {
	if w.config.IsZero() {
		w.state = StateStopped
		return fmt.Errorf("%w: %w: no configuration applied", ErrEngineStartFailed, ErrInvalidConfig)
	}

	if err := w.engine.Start(w.config, w.address); err != nil {
		w.state = StateStopped
		w.logger.Error("failed to start scan engine", slog.String("error", err.Error()))

		return fmt.Errorf("%w: %w", ErrEngineStartFailed, err)
	}

	w.state = StateRunning
	return nil
}

// stop must be called with mu held. The state is Stopped on return whatever
// the outcome.
func (w *Worker) stop() error {
	defer func() {
		w.state = StateStopped
	}()

	err := w.engine.Stop()
	if err == nil {
		return nil
	}

	w.logger.Warn("failed to stop scan engine, retrying",
		slog.String("error", err.Error()),
		slog.Duration("delay", w.stopRetryDelay),
	)

	time.Sleep(w.stopRetryDelay)

	retryErr := w.engine.Stop()
	if retryErr == nil {
		return nil
	}

	w.logger.Warn("scan engine did not confirm stop", slog.String("error", retryErr.Error()))

	return fmt.Errorf("%w: %w", ErrEngineStopFailed, errors.Join(err, retryErr))
}
