package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/spectral-scan/internal/render"
	"github.com/roman-kulish/spectral-scan/internal/scan"
	"github.com/roman-kulish/spectral-scan/internal/storage"
)

const (
	WorkerSubprocess WorkerMode = "subprocess"
	WorkerInProcess  WorkerMode = "inprocess"

	EngineProcess EngineKind = "process"
	EngineSim     EngineKind = "sim"

	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"

	defaultRuntime      = "spectral-scan"
	defaultFPS          = 30
	defaultStartTimeout = 5 * time.Second
	defaultWidth        = 1024
	defaultHeight       = 600
)

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

// WorkerMode selects where the scan worker runs.
type WorkerMode string

// EngineKind selects the scan engine the worker drives.
type EngineKind string

type ImageFormat string

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings"`
	Scan     ScanConfig    `yaml:"scan"`
	Worker   WorkerConfig  `yaml:"worker"`
	Frame    FrameConfig   `yaml:"frame"`
	Render   RenderConfig  `yaml:"render"`
	Storage  StorageConfig `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
	LogFile  string     `yaml:"logFile"`
}

// ScanConfig is the initial scan configuration and the frequency presets
// the interactive UI cycles through.
type ScanConfig struct {
	Frequencies []int   `yaml:"frequencies"`
	Resolution  int     `yaml:"resolution"`
	Presets     [][]int `yaml:"presets"`
}

// WorkerConfig represents the scan worker settings
type WorkerConfig struct {
	Mode             WorkerMode `yaml:"mode"`
	Engine           EngineKind `yaml:"engine"`
	Runtime          string     `yaml:"runtime"`
	Elevate          []string   `yaml:"elevate"`
	ControlDirectory string     `yaml:"controlDirectory"`
	StartTimeout     Duration   `yaml:"startTimeout"`
	StopRetryDelay   Duration   `yaml:"stopRetryDelay"`
}

// FrameConfig represents the frame channel settings
type FrameConfig struct {
	Directory string `yaml:"directory"`
}

// RenderConfig represents the waterfall settings
type RenderConfig struct {
	FPS        int    `yaml:"fps"`
	Theme      string `yaml:"theme"`
	Detect     string `yaml:"detect"`
	ShowPulses bool   `yaml:"showPulses"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
}

// StorageConfig represents the session recorder settings. Recording is off
// when DataDirectory is empty.
type StorageConfig struct {
	DataDirectory     string   `yaml:"dataDirectory"`
	MaxBatchSize      int      `yaml:"maxBatchSize"`
	DetectionInterval Duration `yaml:"detectionInterval"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel: slog.LevelInfo,
		},
		Scan: ScanConfig{
			Frequencies: []int{2412, 2437, 2462},
			Resolution:  scan.DefaultResolution,
			Presets: [][]int{
				{2412, 2437, 2462},
				{2412},
				{2437},
				{2462},
				{5180, 5200, 5220, 5240},
			},
		},
		Worker: WorkerConfig{
			Mode:           WorkerSubprocess,
			Engine:         EngineProcess,
			Runtime:        defaultRuntime,
			StartTimeout:   NewDuration(defaultStartTimeout),
			StopRetryDelay: NewDuration(scan.StopRetryDelay),
		},
		Render: RenderConfig{
			FPS:    defaultFPS,
			Theme:  string(render.NativeTheme),
			Detect: string(render.DetectBluetooth),
			Width:  defaultWidth,
			Height: defaultHeight,
		},
		Storage: StorageConfig{
			MaxBatchSize:      storage.MaxBatchSize,
			DetectionInterval: NewDuration(storage.DetectionInterval),
		},
	}
}

// LoadConfig reads the YAML configuration at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	c := NewConfig()
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err = c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *Config) Validate() error {
	return errors.Join(
		c.Scan.Validate(),
		c.Worker.Validate(),
		c.Render.Validate(),
		c.Storage.Validate(),
	)
}

// Initial returns the scan configuration the worker is bound with.
func (c *ScanConfig) Initial() (scan.Config, error) {
	return scan.NewConfig(c.Frequencies, c.Resolution)
}

func (c *ScanConfig) Validate() error {
	if _, err := c.Initial(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	for i, p := range c.Presets {
		if _, err := scan.NewConfig(p, c.Resolution); err != nil {
			return fmt.Errorf("scan: preset %d: %w", i, err)
		}
	}

	return nil
}

func (c *WorkerConfig) Validate() error {
	switch c.Mode {
	case WorkerSubprocess, WorkerInProcess:
	default:
		return fmt.Errorf("worker: unknown mode '%s'", c.Mode)
	}

	switch c.Engine {
	case EngineProcess:
		if c.Runtime == "" {
			return errors.New("worker: runtime is required for the process engine")
		}
	case EngineSim:
	default:
		return fmt.Errorf("worker: unknown engine '%s'", c.Engine)
	}

	if len(c.Elevate) > 0 && c.Mode != WorkerSubprocess {
		return errors.New("worker: elevation requires the subprocess mode")
	}

	if c.StartTimeout.Duration() <= 0 {
		return fmt.Errorf("worker: start timeout must be positive: %s", c.StartTimeout)
	}
	return c.StopRetryDelay.Validate()
}

func (c *RenderConfig) Validate() error {
	if c.FPS < 0 {
		return fmt.Errorf("render: fps must not be negative: %d", c.FPS)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("render: invalid surface size %dx%d", c.Width, c.Height)
	}
	if _, err := render.ParseColorTheme(c.Theme); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if _, err := render.ParseDetectMode(c.Detect); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("storage: max batch size must be positive: %d", c.MaxBatchSize)
	}
	return c.DetectionInterval.Validate()
}

// DefaultLogFile is where the interactive UI logs when no log file is
// configured.
func DefaultLogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "softsa", "softsa.log")
}
