package app

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/scan"
)

func TestNewConfig_IsValid(t *testing.T) {
	if err := NewConfig().Validate(); err != nil {
		t.Fatalf("default configuration is invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softsa.yaml")
	doc := `
settings:
  logLevel: debug
scan:
  frequencies: [2462, 2412]
  resolution: 6
worker:
  mode: inprocess
  engine: sim
  startTimeout: 750ms
  stopRetryDelay: 20ms
render:
  fps: 15
  theme: thermal
  detect: pulse
storage:
  dataDirectory: /var/lib/softsa
  detectionInterval: 1s
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	initial, err := c.Scan.Initial()
	if err != nil {
		t.Fatal(err)
	}
	if !initial.Equal(scan.MustConfig([]int{2412, 2462}, 6)) {
		t.Errorf("unexpected initial config %s", initial)
	}
	if c.Worker.Mode != WorkerInProcess || c.Worker.Engine != EngineSim {
		t.Errorf("unexpected worker %+v", c.Worker)
	}
	if got := c.Worker.StartTimeout.Duration(); got != 750*time.Millisecond {
		t.Errorf("start timeout: got %s", got)
	}
	if got := c.Worker.StopRetryDelay.Duration(); got != 20*time.Millisecond {
		t.Errorf("stop retry delay: got %s", got)
	}
	if c.Render.FPS != 15 || c.Render.Theme != "thermal" || c.Render.Detect != "pulse" {
		t.Errorf("unexpected render %+v", c.Render)
	}
	if c.Render.Width != defaultWidth || c.Render.Height != defaultHeight {
		t.Errorf("defaults not kept: %dx%d", c.Render.Width, c.Render.Height)
	}
	if c.Storage.DetectionInterval.Duration() != time.Second {
		t.Errorf("detection interval: got %s", c.Storage.DetectionInterval)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"resolution", "scan:\n  resolution: 12\n", "resolution"},
		{"empty frequencies", "scan:\n  frequencies: []\n", "frequency set"},
		{"preset", "scan:\n  presets: [[2412], [0]]\n", "preset 1"},
		{"engine", "worker:\n  engine: hackrf\n", "unknown engine"},
		{"elevate in process", "worker:\n  mode: inprocess\n  elevate: [sudo]\n", "elevation"},
		{"start timeout", "worker:\n  startTimeout: 0s\n", "start timeout"},
		{"theme", "render:\n  theme: neon\n", "color theme"},
		{"duration", "storage:\n  detectionInterval: soon\n", "app.Duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "softsa.yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWorkerOptions_Args(t *testing.T) {
	opts := WorkerOptions{
		ControlAddress: "/tmp/control.sock",
		FrameAddress:   "/tmp/frames.sock",
		Initial:        scan.MustConfig([]int{2437}, 5),
		Engine:         EngineSim,
		Runtime:        "spectral-scan",
		StopRetryDelay: 50 * time.Millisecond,
	}

	args, err := opts.Args()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"worker",
		"--control", "/tmp/control.sock",
		"--frames", "/tmp/frames.sock",
		"--scan", `{"frequencies":[2437],"resolution":5}`,
		"--engine", "sim",
		"--runtime", "spectral-scan",
		"--stop-retry-delay", "50ms",
	}
	if !slices.Equal(args, want) {
		t.Errorf("got %q, want %q", args, want)
	}
}

func TestImageFormat(t *testing.T) {
	tests := []struct {
		path string
		want ImageFormat
		ok   bool
	}{
		{"a.png", ImagePNG, true},
		{"b.JPG", ImageJPEG, true},
		{"c.jpeg", ImageJPEG, true},
		{"d.gif", "", false},
	}

	for _, tt := range tests {
		got, err := ImageFormatFromPath(tt.path)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("%s: got %q, %v", tt.path, got, err)
		}
	}

	if f, err := ParseImageFormat("jpg"); err != nil || f != ImageJPEG {
		t.Errorf("jpg: got %q, %v", f, err)
	}
	if _, err := ParseImageFormat("bmp"); err == nil {
		t.Error("bmp: expected an error")
	}
}
