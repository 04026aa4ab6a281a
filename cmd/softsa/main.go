package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/roman-kulish/spectral-scan/cmd/softsa/app"
	"github.com/roman-kulish/spectral-scan/internal/scan"
)

var (
	flagConfig string
	flagDemo   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "softsa",
		Short: "softsa - Wi-Fi spectral scan waterfall",
		Long: `softsa drives the spectral scan of a Wi-Fi card and shows the received
frames as a scrolling waterfall, with Bluetooth and narrowband pulse readouts.

The scan itself runs in a worker process, which usually needs elevated
permissions (see worker.elevate in the configuration file).
Use --demo to run with a simulated scanner instead of the hardware.`,
		SilenceUsage: true,
		RunE:         runInteractive,
	}

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&flagDemo, "demo", false, "Use the simulated scanner in process (no hardware required)")

	rootCmd.AddCommand(newWorkerCmd(), newSnapshotCmd(), newHistoryCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*app.Config, error) {
	config := app.NewConfig()
	if flagConfig != "" {
		var err error
		if config, err = app.LoadConfig(flagConfig); err != nil {
			return nil, err
		}
	}

	if flagDemo {
		config.Worker.Mode = app.WorkerInProcess
		config.Worker.Engine = app.EngineSim
		config.Worker.Elevate = nil
	}

	return config, config.Validate()
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	logPath := config.Settings.LogFile
	if logPath == "" {
		logPath = app.DefaultLogFile()
	}
	if err = os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	var logLevel slog.LevelVar
	logLevel.Set(config.Settings.LogLevel)
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: &logLevel}))

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	coord, err := app.NewCoordinator(ctx, config, logger)
	if err != nil {
		return fmt.Errorf("%w (see %s)", err, logPath)
	}

	snapshotDir, err := os.Getwd()
	if err != nil {
		snapshotDir = os.TempDir()
	}

	p := tea.NewProgram(
		app.NewModel(ctx, coord, config, snapshotDir),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		runErr = nil
	}

	return errors.Join(runErr, coord.Close())
}

func newWorkerCmd() *cobra.Command {
	var (
		opts     app.WorkerOptions
		initial  string
		engine   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run the scan worker (started by softsa)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return err
			}

			// the host relays stderr into its own log
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			if err := json.Unmarshal([]byte(initial), &opts.Initial); err != nil {
				return fmt.Errorf("invalid initial scan config: %w", err)
			}
			opts.Engine = app.EngineKind(engine)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := app.RunWorker(ctx, opts, logger); err != nil {
				logger.Error(err.Error())
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ControlAddress, "control", "", "Control socket of the controller")
	cmd.Flags().StringVar(&opts.FrameAddress, "frames", "", "Frame channel address")
	cmd.Flags().StringVar(&initial, "scan", "", "Initial scan configuration (JSON)")
	cmd.Flags().StringVar(&engine, "engine", string(app.EngineProcess), "Scan engine: process or sim")
	cmd.Flags().StringVar(&opts.Runtime, "runtime", "", "Spectral scan helper binary")
	cmd.Flags().DurationVar(&opts.StopRetryDelay, "stop-retry-delay", scan.StopRetryDelay, "Delay before retrying a failed engine stop")
	cmd.Flags().StringVar(&logLevel, "log-level", slog.LevelInfo.String(), "Log level")

	_ = cmd.MarkFlagRequired("control")
	_ = cmd.MarkFlagRequired("frames")
	_ = cmd.MarkFlagRequired("scan")

	return cmd
}

func newSnapshotCmd() *cobra.Command {
	var (
		opts   app.SnapshotOptions
		format string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the waterfall for a while and save it as an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			if format != "" {
				opts.Format, err = app.ParseImageFormat(format)
			} else {
				opts.Format, err = app.ImageFormatFromPath(opts.Output)
			}
			if err != nil {
				return err
			}
			if opts.Duration <= 0 {
				return fmt.Errorf("duration must be positive: %s", opts.Duration)
			}

			var logLevel slog.LevelVar
			logLevel.Set(config.Settings.LogLevel)
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err = app.RunSnapshot(ctx, config, opts, logger); err != nil {
				logger.Error(err.Error())
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "softsa.png", "Output image file")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Image format: png or jpeg (default: from the file extension)")
	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 5*time.Second, "How long to render before saving")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		opts         app.HistoryOptions
		since, until string
	)

	cmd := &cobra.Command{
		Use:   "history <database>",
		Short: "List recorded sessions, or the commands and detections of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DBPath = args[0]

			var err error
			if opts.Since, err = parseTime(since); err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			if opts.Until, err = parseTime(until); err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			return app.RunHistory(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64VarP(&opts.SessionID, "session", "s", 0, "Session to show (default: list sessions)")
	cmd.Flags().Int64Var(&opts.MinFreq, "min-freq", 0, "Minimum center frequency (MHz)")
	cmd.Flags().Int64Var(&opts.MaxFreq, "max-freq", 0, "Maximum center frequency (MHz)")
	cmd.Flags().StringVar(&since, "since", "", "Only detections after this local time (YYYY-MM-DD HH:MM:SS)")
	cmd.Flags().StringVar(&until, "until", "", "Only detections before this local time (YYYY-MM-DD HH:MM:SS)")

	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(time.DateTime, s, time.Local)
}

