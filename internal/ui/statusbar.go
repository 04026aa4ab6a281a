package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Status is everything the status bar shows.
type Status struct {
	WorkerState string
	Connected   bool

	Rate    int
	Dropped uint64

	CenterFreq     uint16
	BluetoothPower float64
	PulseFreq      float64

	// CPU is negative while the worker process stats are unknown.
	CPU float64
	RSS uint64

	Notice      string
	NoticeError bool
}

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(width int, s Status) string {
	var state string
	switch {
	case !s.Connected:
		state = StyleDisconnected.Render("[DISCONNECTED]")
	case s.WorkerState == "running":
		state = StyleRunning.Render("[RUNNING]")
	default:
		state = StyleStopped.Render("[" + strings.ToUpper(s.WorkerState) + "]")
	}

	info := []string{fmt.Sprintf("Rate: %s/s", humanize.Comma(int64(s.Rate)))}
	if s.CenterFreq > 0 {
		info = append(info, fmt.Sprintf("Center: %d MHz", s.CenterFreq))
	}
	if !math.IsNaN(s.BluetoothPower) {
		info = append(info, fmt.Sprintf("Bluetooth: %.0f dBm", s.BluetoothPower))
	}
	if !math.IsNaN(s.PulseFreq) {
		info = append(info, fmt.Sprintf("Pulse: %.1f MHz", s.PulseFreq))
	}
	info = append(info, fmt.Sprintf("Drops: %s", humanize.Comma(int64(s.Dropped))))
	if s.CPU >= 0 {
		info = append(info, fmt.Sprintf("CPU: %.1f%%", s.CPU), fmt.Sprintf("RSS: %s", humanize.Bytes(s.RSS)))
	}

	content := state + " " + strings.Join(info, "  ")

	if s.Notice != "" {
		style := StyleNotice
		if s.NoticeError {
			style = StyleNoticeError
		}
		content += "  " + style.Render(s.Notice)
	}

	return StyleStatusBar.Width(width).Render(content + pad(width-lipgloss.Width(content)-2))
}
