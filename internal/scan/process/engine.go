// Package process runs the native spectral-scan helper as a child process.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/scan"
)

const (
	// StartGrace is how long Start watches the helper for an immediate exit.
	StartGrace = 100 * time.Millisecond

	// StopTimeout is how long the helper is given to exit after an interrupt
	// before it is killed.
	StopTimeout = time.Second
)

var (
	ErrAlreadyRunning = errors.New("scan process is already running")

	// ErrExited is returned by Start when the helper exits during the start
	// grace period.
	ErrExited = errors.New("scan process exited")

	// ErrStopTimeout is returned by Stop when the helper did not exit in time.
	ErrStopTimeout = errors.New("scan process did not exit")
)

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) func(e *Engine) {
	return func(e *Engine) {
		e.logger = logger.With(slog.String("component", "scan-process"))
	}
}

// WithStartGrace sets how long Start waits for the helper to settle
func WithStartGrace(d time.Duration) func(e *Engine) {
	return func(e *Engine) {
		e.startGrace = d
	}
}

// WithStopTimeout sets how long the helper is given to exit on Stop
func WithStopTimeout(d time.Duration) func(e *Engine) {
	return func(e *Engine) {
		e.stopTimeout = d
	}
}

// WithArgs appends extra arguments to every helper invocation
func WithArgs(args ...string) func(e *Engine) {
	return func(e *Engine) {
		e.args = append(e.args, args...)
	}
}

// Engine is a scan.Engine backed by the spectral-scan helper binary:
//
//	spectral-scan -f <freq,...> -n <resolution> -s <relay address>
//
// The helper writes scan frames to a relay socket that forwards them to the
// frame channel, filling in the center frequency of a single-frequency scan
// where the scanner left it unset. Stop interrupts the helper and waits for
// the exit, so no frames are written once Stop returns.
type Engine struct {
	runtime string
	args    []string

	mu      sync.Mutex
	cancel  context.CancelFunc
	exited  chan struct{}
	exitErr error
	running bool
	relay   *relay

	startGrace  time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger
}

var (
	_ scan.Engine       = (*Engine)(nil)
	_ scan.RangeChecker = (*Engine)(nil)
)

// NewEngine creates an engine running the helper at runtime, as resolved by
// driver.FindRuntime.
func NewEngine(runtime string, options ...func(e *Engine)) *Engine {
	e := Engine{
		runtime:     runtime,
		startGrace:  StartGrace,
		stopTimeout: StopTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// Args returns the helper arguments for c.
func (e *Engine) Args(c scan.Config, address string) []string {
	freqs := c.Frequencies()
	list := make([]string, len(freqs))
	for i, f := range freqs {
		list[i] = strconv.Itoa(f)
	}

	args := []string{
		"-f", strings.Join(list, ","),
		"-n", strconv.Itoa(c.Resolution()),
		"-s", address,
	}

	return append(args, e.args...)
}

// CheckRange accepts only the frequencies an access point can be tuned to.
func (e *Engine) CheckRange(c scan.Config) error {
	for _, f := range c.Frequencies() {
		if !slices.Contains(scan.APFrequencies, f) {
			return fmt.Errorf("%w: %d MHz is not a supported channel", scan.ErrInvalidConfig, f)
		}
	}
	return nil
}

// Start launches the helper.
func (e *Engine) Start(c scan.Config, address string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	r, err := startRelay(address, c, e.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, e.runtime, e.Args(c, r.path)...)
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = e.stopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = r.close()
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		_ = r.close()
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		cancel()
		_ = r.close()
		return fmt.Errorf("error starting command: %w", err)
	}

	logger := e.logger.With(slog.Int("pid", cmd.Process.Pid))
	logger.Info("scan process started", slog.String("config", c.String()))

	exited := make(chan struct{})

	var output sync.WaitGroup
	output.Add(2)
	go e.handleOutput(logger, stdout, slog.LevelInfo, &output)
	go e.handleOutput(logger, stderr, slog.LevelWarn, &output)

	go func() {
		defer close(exited)

		// pipes must be drained before Wait closes them
		output.Wait()
		err := cmd.Wait()

		e.mu.Lock()
		e.exitErr = err
		e.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			logger.Error("scan process exited", slog.String("error", err.Error()))
			return
		}
		logger.Info("scan process exited")
	}()

	e.cancel = cancel
	e.exited = exited
	e.exitErr = nil
	e.running = true
	e.relay = r

	if e.startGrace <= 0 {
		return nil
	}

	e.mu.Unlock()
	select {
	case <-exited:
	case <-time.After(e.startGrace):
	}
	e.mu.Lock()

	select {
	case <-exited:
		cancel()
		e.running = false
		e.closeRelay()

		if e.exitErr != nil {
			return fmt.Errorf("%w: %w", ErrExited, e.exitErr)
		}
		return ErrExited
	default:
		return nil
	}
}

// Stop interrupts the helper and waits for it to exit. The helper is killed
// when it ignores the interrupt.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil // already stopped
	}

	e.cancel()

	select {
	case <-e.exited:
	case <-time.After(2 * e.stopTimeout):
		return ErrStopTimeout
	}

	e.running = false
	e.closeRelay()
	return nil
}

// closeRelay must be called with mu held, once the helper has exited.
func (e *Engine) closeRelay() {
	if e.relay == nil {
		return
	}

	if err := e.relay.close(); err != nil {
		e.logger.Warn("error closing frame relay", slog.String("error", err.Error()))
	}
	e.relay = nil
}

// handleOutput logs the helper output line by line.
func (e *Engine) handleOutput(logger *slog.Logger, r io.Reader, level slog.Level, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		logger.Log(context.Background(), level, fmt.Sprintf("%s >> %s", "spectral-scan", line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		logger.Warn("error reading scan process output", slog.String("error", err.Error()))
	}
}
