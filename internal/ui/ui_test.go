package ui

import (
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestRenderWaterfall_Size(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), A: 0xff})
		}
	}

	out := RenderWaterfall(img, 8, 3)

	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, line := range lines {
		if w := lipgloss.Width(line); w != 8 {
			t.Errorf("line %d: got width %d, want 8", i, w)
		}
		if n := strings.Count(line, halfBlock); n != 8 {
			t.Errorf("line %d: got %d half blocks, want 8", i, n)
		}
	}
}

func TestRenderWaterfall_NoImage(t *testing.T) {
	out := RenderWaterfall(nil, 20, 2)
	if !strings.Contains(out, "no signal") {
		t.Errorf("expected placeholder, got %q", out)
	}
}

func TestHex(t *testing.T) {
	if got := hex(color.RGBA{R: 0xff, G: 0x80, A: 0xff}); got != "#ff8000" {
		t.Errorf("got %s, want #ff8000", got)
	}
}

func TestRenderStatusBar(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   []string
		absent []string
	}{
		{
			name:   "running",
			status: Status{WorkerState: "running", Connected: true, Rate: 12000, CenterFreq: 2437, BluetoothPower: -61, PulseFreq: math.NaN(), CPU: 12.5, RSS: 1 << 20},
			want:   []string{"RUNNING", "12,000/s", "2437 MHz", "Bluetooth: -61 dBm", "CPU: 12.5%", "RSS: 1.0 MB"},
			absent: []string{"Pulse"},
		},
		{
			name:   "stopped",
			status: Status{WorkerState: "stopped", Connected: true, BluetoothPower: math.NaN(), PulseFreq: 2440.5, CPU: -1},
			want:   []string{"STOPPED", "Pulse: 2440.5 MHz"},
			absent: []string{"CPU", "Bluetooth"},
		},
		{
			name:   "disconnected",
			status: Status{WorkerState: "running", BluetoothPower: math.NaN(), PulseFreq: math.NaN(), CPU: -1, Notice: "link lost", NoticeError: true},
			want:   []string{"DISCONNECTED", "link lost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RenderStatusBar(200, tt.status)
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("expected %q in %q", s, out)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(out, s) {
					t.Errorf("unexpected %q in %q", s, out)
				}
			}
		})
	}
}

func TestBodyHeight(t *testing.T) {
	if got := BodyHeight(40); got != 38 {
		t.Errorf("got %d, want 38", got)
	}
	if got := BodyHeight(1); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}
