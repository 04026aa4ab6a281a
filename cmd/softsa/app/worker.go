package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/link"
	"github.com/roman-kulish/spectral-scan/internal/scan"
	"github.com/roman-kulish/spectral-scan/internal/scan/driver"
	"github.com/roman-kulish/spectral-scan/internal/scan/process"
	"github.com/roman-kulish/spectral-scan/internal/scan/sim"
)

// WorkerOptions is everything a worker needs to bind: where the controller
// listens, where frames go and what to scan.
type WorkerOptions struct {
	ControlAddress string
	FrameAddress   string
	Initial        scan.Config
	Engine         EngineKind
	Runtime        string
	StopRetryDelay time.Duration
}

// Args returns the command line of the worker subcommand for o.
func (o WorkerOptions) Args() ([]string, error) {
	initial, err := o.Initial.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding initial config: %w", err)
	}

	return []string{
		"worker",
		"--control", o.ControlAddress,
		"--frames", o.FrameAddress,
		"--scan", string(initial),
		"--engine", string(o.Engine),
		"--runtime", o.Runtime,
		"--stop-retry-delay", o.StopRetryDelay.String(),
	}, nil
}

// NewEngine creates the scan engine of the given kind.
func NewEngine(kind EngineKind, runtime string, logger *slog.Logger) (scan.Engine, error) {
	switch kind {
	case EngineSim:
		return sim.NewEngine(sim.WithLogger(logger)), nil

	case EngineProcess:
		path, err := driver.FindRuntime(runtime)
		if err != nil {
			return nil, err
		}
		return process.NewEngine(path, process.WithLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown engine '%s'", kind)
	}
}

// ServeWorker binds a scan worker and serves the controller on conn until
// the controller unbinds or detaches. The engine is stopped on return.
func ServeWorker(ctx context.Context, conn net.Conn, opts WorkerOptions, logger *slog.Logger) error {
	engine, err := NewEngine(opts.Engine, opts.Runtime, logger)
	if err != nil {
		return fmt.Errorf("creating scan engine: %w", err)
	}

	workerOpts := []func(w *scan.Worker){scan.WithLogger(logger)}
	if opts.StopRetryDelay > 0 {
		workerOpts = append(workerOpts, scan.WithStopRetryDelay(opts.StopRetryDelay))
	}

	w := scan.NewWorker(engine, opts.FrameAddress, workerOpts...)

	bindErr := w.Bind(opts.Initial)
	if bindErr != nil {
		logger.Error("worker bound without a running scan", slog.String("error", bindErr.Error()))
	}

	return link.NewServer(conn, w, link.WithServerLogger(logger)).Serve(ctx, bindErr)
}

// RunWorker is the worker process: it dials the controller and serves it.
func RunWorker(ctx context.Context, opts WorkerOptions, logger *slog.Logger) error {
	conn, err := net.Dial("unix", opts.ControlAddress)
	if err != nil {
		return fmt.Errorf("dialing controller: %w", err)
	}
	defer conn.Close()

	logger.Info("worker connected",
		slog.String("control", opts.ControlAddress),
		slog.String("frames", opts.FrameAddress),
		slog.String("engine", string(opts.Engine)),
	)

	return ServeWorker(ctx, conn, opts, logger)
}
