package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/frame"
	"github.com/roman-kulish/spectral-scan/internal/link"
	"github.com/roman-kulish/spectral-scan/internal/render"
	"github.com/roman-kulish/spectral-scan/internal/scan"
	"github.com/roman-kulish/spectral-scan/internal/storage"
)

// unbindTimeout bounds the UNBIND handshake on shutdown.
const unbindTimeout = time.Second

// Coordinator wires the scan worker, the frame channel and the render loop
// of one session.
type Coordinator struct {
	config *Config
	logger *slog.Logger

	receiver *frame.Receiver
	detector *render.Detector
	loop     *render.Loop
	host     *Host
	client   *link.Client

	store    *storage.SqliteStore
	recorder *storage.Recorder

	mu      sync.Mutex
	current scan.Config
	status  link.Status
	preset  int
	pending map[uint32]scan.Command

	replies   chan link.Reply
	linkErr   error
	closeOnce sync.Once
	closeErr  error
}

// NewCoordinator opens the frame channel, starts the worker and waits for it
// to bind. A worker that bound but could not start scanning is not an error:
// it can be reconfigured. Neither is a worker that never connected, see
// LinkError.
func NewCoordinator(ctx context.Context, config *Config, logger *slog.Logger, options ...func(l *render.Loop)) (*Coordinator, error) {
	initial, err := config.Scan.Initial()
	if err != nil {
		return nil, err
	}

	c := Coordinator{
		config:   config,
		logger:   logger,
		detector: render.NewDetector(),
		current:  initial,
		pending:  make(map[uint32]scan.Command),
		replies:  make(chan link.Reply, link.RepliesBufferSize),
	}

	if err = c.open(ctx, initial, options); err != nil {
		_ = c.Close()
		return nil, err
	}
	if c.client == nil {
		close(c.replies)
		return &c, nil
	}

	go c.handleReplies()

	return &c, nil
}

func (c *Coordinator) open(ctx context.Context, initial scan.Config, loopOptions []func(l *render.Loop)) error {
	addr, err := frame.NewAddress(c.config.Frame.Directory)
	if err != nil {
		return err
	}

	c.receiver, err = frame.Open(addr,
		frame.WithReceiverLogger(c.logger),
		frame.WithTap(c.detector.Observe),
	)
	if err != nil {
		return err
	}

	theme, _ := render.ParseColorTheme(c.config.Render.Theme)
	mode, _ := render.ParseDetectMode(c.config.Render.Detect)

	loopOptions = append([]func(l *render.Loop){
		render.WithLoopLogger(c.logger),
		render.WithDetector(c.detector, mode),
		render.WithTheme(theme),
		render.WithShowPulses(c.config.Render.ShowPulses),
		render.WithOnTick(c.Record),
	}, loopOptions...)

	if c.loop, err = render.NewLoop(c.receiver, loopOptions...); err != nil {
		return fmt.Errorf("creating render loop: %w", err)
	}

	if c.config.Storage.DataDirectory != "" {
		if err = c.openRecorder(ctx, addr, initial); err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
	}

	c.host = NewHost(c.config.Worker, c.logger)

	if err = c.connect(ctx, addr, initial); err != nil {
		// the session stays up without a worker, commands fail with
		// link.ErrNotConnected
		c.linkErr = err
		c.logger.Error("worker unavailable", slog.String("error", err.Error()))
	}

	return nil
}

func (c *Coordinator) connect(ctx context.Context, addr string, initial scan.Config) error {
	conn, err := c.host.Start(ctx, WorkerOptions{FrameAddress: addr, Initial: initial})
	if err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	client := link.NewClient(conn, link.WithLogger(c.logger))

	startCtx, cancel := context.WithTimeout(ctx, c.config.Worker.StartTimeout.Duration())
	defer cancel()

	status, err := client.WaitBound(startCtx)
	switch {
	case errors.Is(err, scan.ErrInvalidConfig):
		c.logger.Warn("worker rejected the initial configuration, waiting for a new one", slog.String("error", err.Error()))
	case errors.Is(err, scan.ErrEngineStartFailed):
		c.logger.Warn("worker bound but not scanning", slog.String("error", err.Error()))
	case err != nil:
		_ = client.Close()
		return fmt.Errorf("waiting for worker: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.status = status
	c.mu.Unlock()

	c.logger.Info("worker bound",
		slog.String("state", status.State),
		slog.Int("pid", status.PID),
		slog.String("frames", addr),
	)

	return nil
}

func (c *Coordinator) openRecorder(ctx context.Context, addr string, initial scan.Config) error {
	dir := c.config.Storage.DataDirectory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage directory '%s': %w", dir, err)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("softsa_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	c.store = storage.NewSqliteStore(dbPath)

	sessionID, err := c.store.CreateSession(ctx, string(c.config.Worker.Engine), addr, initial)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	c.recorder = storage.NewRecorder(c.store, sessionID,
		storage.WithMaxBatchSize(c.config.Storage.MaxBatchSize),
		storage.WithDetectionInterval(c.config.Storage.DetectionInterval.Duration()),
		storage.WithLogger(c.logger),
	)

	c.logger.Info("recording session", slog.String("path", dbPath), slog.Int64("session", sessionID))

	return nil
}

// handleReplies records acknowledgements and forwards them to Replies.
func (c *Coordinator) handleReplies() {
	defer close(c.replies)

	for r := range c.client.Replies() {
		c.mu.Lock()
		cmd, ok := c.pending[r.Seq]
		delete(c.pending, r.Seq)
		c.status = r.Status
		if r.Err == nil && ok && cmd.Kind == scan.CommandReconfigure {
			c.current = cmd.Config
		}
		c.mu.Unlock()

		if c.recorder != nil && r.Command != link.MessageStatus {
			data := storage.CommandData{
				Seq:     int64(r.Seq),
				Command: r.Command.String(),
				State:   storage.NullString(r.Status.State),
			}
			if ok && cmd.Kind == scan.CommandReconfigure {
				data.Config = storage.NullString(cmd.Config.String())
			}
			if r.Err != nil {
				data.Error = storage.NullString(r.Err.Error())
			}
			c.recorder.RecordCommand(data)
		}

		if r.Err != nil {
			c.logger.Warn("command failed",
				slog.String("command", r.Command.String()),
				slog.String("error", r.Err.Error()),
			)
		}

		select {
		case c.replies <- r:
		default:
		}
	}
}

// Replies delivers the worker acknowledgements. It is closed when the link
// goes down.
func (c *Coordinator) Replies() <-chan link.Reply {
	return c.replies
}

func (c *Coordinator) send(ctx context.Context, cmd scan.Command) error {
	if c.client == nil {
		return link.ErrNotConnected
	}

	// the pending entry must exist before the ack can arrive
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.client.Send(ctx, cmd)
	if err != nil {
		return err
	}

	c.pending[seq] = cmd
	return nil
}

// RefreshStatus asks the worker for its status. The answer updates Status
// when it arrives.
func (c *Coordinator) RefreshStatus(ctx context.Context) error {
	if c.client == nil {
		return link.ErrNotConnected
	}

	_, err := c.client.RequestStatus(ctx)
	return err
}

// Pause toggles scanning.
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.send(ctx, scan.Pause())
}

// Configure replaces the scan configuration.
func (c *Coordinator) Configure(ctx context.Context, sc scan.Config) error {
	return c.send(ctx, scan.Reconfigure(sc))
}

// NextPreset switches to the next frequency preset at the current
// resolution.
func (c *Coordinator) NextPreset(ctx context.Context) (scan.Config, error) {
	presets := c.config.Scan.Presets
	if len(presets) == 0 {
		return scan.Config{}, errors.New("no frequency presets configured")
	}

	c.mu.Lock()
	c.preset = (c.preset + 1) % len(presets)
	freqs := presets[c.preset]
	resolution := c.current.Resolution()
	c.mu.Unlock()

	sc, err := scan.NewConfig(freqs, resolution)
	if err != nil {
		return scan.Config{}, err
	}
	return sc, c.Configure(ctx, sc)
}

// StepResolution changes the resolution by delta, clamped to the supported
// range.
func (c *Coordinator) StepResolution(ctx context.Context, delta int) (scan.Config, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	resolution := min(max(current.Resolution()+delta, scan.MinResolution), scan.MaxResolution)
	if resolution == current.Resolution() {
		return current, nil
	}

	sc, err := scan.NewConfig(current.Frequencies(), resolution)
	if err != nil {
		return scan.Config{}, err
	}
	return sc, c.Configure(ctx, sc)
}

// Current returns the latest acknowledged scan configuration.
func (c *Coordinator) Current() scan.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// Status returns the latest worker status.
func (c *Coordinator) Status() link.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// LinkError returns why the worker link could not be established, if it
// could not.
func (c *Coordinator) LinkError() error {
	return c.linkErr
}

// Connected reports whether the worker link is up.
func (c *Coordinator) Connected() bool {
	return c.client != nil && c.client.Connected()
}

// Loop returns the render loop.
func (c *Coordinator) Loop() *render.Loop {
	return c.loop
}

// FrameStats returns the frame channel counters.
func (c *Coordinator) FrameStats() frame.ReceiverStats {
	return c.receiver.Stats()
}

// WorkerStats samples the worker process resource usage.
func (c *Coordinator) WorkerStats() (ProcessStats, error) {
	return c.host.Stats(c.Status().PID)
}

// Tick redraws the waterfall and records the readout. Run records on its
// own.
func (c *Coordinator) Tick(now time.Time) (render.TickResult, error) {
	r, err := c.loop.Tick(now)
	if err != nil {
		return r, err
	}

	c.Record(r)
	return r, nil
}

// Record stores the readout of a tick when recording is on.
func (c *Coordinator) Record(r render.TickResult) {
	if c.recorder == nil || r.Frames == 0 {
		return
	}

	c.recorder.RecordDetection(storage.DetectionData{
		Timestamp:      time.Now(),
		CenterFreq:     int64(r.Readout.CenterFreq),
		ScanRate:       int64(r.Rate),
		BluetoothPower: storage.NullFloat(r.Readout.BluetoothPower),
		PulseFreq:      storage.NullFloat(r.Readout.PulseFreq),
	})
}

// Close unbinds the worker and releases the session. The worker is
// unbound before the frame channel closes so the engine stops first.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		var errs []error

		if c.client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), unbindTimeout)
			if err := c.client.Unbind(ctx); err != nil && !errors.Is(err, link.ErrNotConnected) {
				errs = append(errs, fmt.Errorf("unbinding worker: %w", err))
			}
			cancel()
		}

		if c.host != nil {
			// a worker that never connected was reported by LinkError
			if err := c.host.Wait(exitTimeout); err != nil && c.linkErr == nil {
				errs = append(errs, fmt.Errorf("worker: %w", err))
			}
		}

		if c.loop != nil {
			errs = append(errs, c.loop.Teardown())
		}
		if c.receiver != nil {
			errs = append(errs, c.receiver.Close())
		}
		if c.recorder != nil {
			errs = append(errs, c.recorder.Close())
		}
		if c.store != nil {
			errs = append(errs, c.store.Close())
		}

		c.closeErr = errors.Join(slices.DeleteFunc(errs, func(err error) bool { return err == nil })...)
	})

	return c.closeErr
}
