package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/roman-kulish/spectral-scan/internal/frame"
)

// exitTimeout is how long the worker is given to exit after unbinding.
const exitTimeout = 2 * time.Second

var ErrWorkerTimeout = errors.New("worker did not connect in time")

// ProcessStats is the resource usage of the worker process.
type ProcessStats struct {
	PID        int
	CPUPercent float64
	RSS        uint64
}

// Host launches the scan worker, either as a (possibly elevated) child
// process or in process. Both dial back over a unix control socket.
type Host struct {
	config WorkerConfig
	logger *slog.Logger

	cmd     *exec.Cmd
	done    chan struct{}
	started bool

	mu      sync.Mutex
	waitErr error
	proc    *process.Process
}

// NewHost creates a host for the given worker settings.
func NewHost(config WorkerConfig, logger *slog.Logger) *Host {
	return &Host{
		config: config,
		logger: logger.With(slog.String("component", "worker-host")),
		done:   make(chan struct{}),
	}
}

// Start launches the worker and returns the controller end of its
// connection.
func (h *Host) Start(ctx context.Context, opts WorkerOptions) (net.Conn, error) {
	opts.Engine = h.config.Engine
	opts.Runtime = h.config.Runtime
	opts.StopRetryDelay = h.config.StopRetryDelay.Duration()

	path, err := frame.NewAddress(h.config.ControlDirectory)
	if err != nil {
		return nil, err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening for worker: %w", err)
	}
	defer ln.Close()

	opts.ControlAddress = path

	if h.config.Mode == WorkerInProcess {
		h.startInProcess(ctx, opts)
	} else if err = h.startSubprocess(opts); err != nil {
		return nil, err
	}

	return h.accept(ctx, ln)
}

func (h *Host) startInProcess(ctx context.Context, opts WorkerOptions) {
	h.started = true

	go func() {
		defer close(h.done)

		err := RunWorker(ctx, opts, h.logger.With(slog.String("worker", "inprocess")))

		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()

		if err != nil {
			h.logger.Error("worker exited", slog.String("error", err.Error()))
		}
	}()
}

func (h *Host) startSubprocess(opts WorkerOptions) error {
	// an elevated worker runs as another user
	if err := os.Chmod(opts.ControlAddress, 0o666); err != nil {
		return fmt.Errorf("opening control socket: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	args, err := opts.Args()
	if err != nil {
		return err
	}
	args = append(args, "--log-level", h.logLevel())

	argv := append(append([]string{}, h.config.Elevate...), exe)
	argv = append(argv, args...)

	cmd := exec.Command(argv[0], argv[1:]...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return fmt.Errorf("error starting worker: %w", err)
	}
	h.cmd = cmd
	h.started = true

	h.logger.Info("worker started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("command", strings.Join(argv[:len(h.config.Elevate)+1], " ")),
	)

	go func() {
		defer close(h.done)

		h.handleStderr(stderr)
		err := cmd.Wait()

		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()

		if err != nil {
			h.logger.Error("worker exited", slog.String("error", err.Error()))
			return
		}
		h.logger.Info("worker exited")
	}()

	return nil
}

// accept waits for the started worker to dial the control socket.
func (h *Host) accept(ctx context.Context, ln *net.UnixListener) (net.Conn, error) {
	type accepted struct {
		conn net.Conn
		err  error
	}
	result := make(chan accepted, 1)

	go func() {
		conn, err := ln.Accept()
		result <- accepted{conn, err}
	}()

	timeout := time.NewTimer(h.config.StartTimeout.Duration())
	defer timeout.Stop()

	select {
	case r := <-result:
		if r.err != nil {
			h.kill()
			return nil, fmt.Errorf("accepting worker: %w", r.err)
		}
		return r.conn, nil

	case <-h.done:
		return nil, fmt.Errorf("worker exited before connecting: %w", h.Err())

	case <-timeout.C:
		h.kill()
		return nil, ErrWorkerTimeout

	case <-ctx.Done():
		h.kill()
		return nil, ctx.Err()
	}
}

// handleStderr relays the worker log lines.
func (h *Host) handleStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		h.logger.Info(fmt.Sprintf("worker >> %s", line))
	}
}

func (h *Host) logLevel() string {
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.logger.Enabled(context.Background(), l) {
			return l.String()
		}
	}
	return slog.LevelError.String()
}

func (h *Host) kill() {
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

// Done is closed when the worker has exited.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Err returns how the worker exited.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.waitErr
}

// Wait waits for the worker to exit and kills it after timeout.
func (h *Host) Wait(timeout time.Duration) error {
	if !h.started {
		return nil
	}

	select {
	case <-h.done:
	case <-time.After(timeout):
		h.logger.Warn("worker did not exit, killing it")
		h.kill()

		select {
		case <-h.done:
		case <-time.After(timeout):
			return errors.New("worker did not exit")
		}
	}

	return h.Err()
}

// Stats samples the resource usage of the worker with the given pid, as
// reported by the worker itself. CPU usage is averaged since the previous
// call.
func (h *Host) Stats(pid int) (ProcessStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if pid <= 0 {
		return ProcessStats{}, errors.New("worker pid unknown")
	}

	if h.proc == nil || int(h.proc.Pid) != pid {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			return ProcessStats{}, fmt.Errorf("inspecting worker process: %w", err)
		}
		h.proc = p
	}

	stats := ProcessStats{PID: pid}

	cpu, err := h.proc.Percent(0)
	if err != nil {
		return stats, fmt.Errorf("reading worker cpu: %w", err)
	}
	stats.CPUPercent = cpu

	mem, err := h.proc.MemoryInfo()
	if err != nil {
		return stats, fmt.Errorf("reading worker memory: %w", err)
	}
	stats.RSS = mem.RSS

	return stats, nil
}
