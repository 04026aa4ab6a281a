package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/roman-kulish/spectral-scan/internal/link"
	"github.com/roman-kulish/spectral-scan/internal/render"
	"github.com/roman-kulish/spectral-scan/internal/ui"
)

const (
	noticeTimeout = 4 * time.Second
	statsInterval = time.Second
)

// shared holds state every copy of the model must see.
type shared struct {
	ctx   context.Context
	coord *Coordinator
}

// Model is the interactive bubbletea model.
type Model struct {
	width  int
	height int

	fps         int
	snapshotDir string
	theme       render.ColorTheme
	showPulses  bool

	tick    render.TickResult
	stats   ProcessStats
	statsOK bool

	notice      string
	noticeErr   bool
	noticeUntil time.Time

	// a sticky notice stays until replaced
	noticeSticky bool

	shared *shared
}

// NewModel creates the interactive UI for a running session. Snapshots are
// written to snapshotDir.
func NewModel(ctx context.Context, coord *Coordinator, config *Config, snapshotDir string) Model {
	theme, _ := render.ParseColorTheme(config.Render.Theme)

	fps := config.Render.FPS
	if fps <= 0 {
		fps = defaultFPS
	}

	m := Model{
		fps:         fps,
		snapshotDir: snapshotDir,
		theme:       theme,
		showPulses:  config.Render.ShowPulses,
		shared:      &shared{ctx: ctx, coord: coord},
	}
	if err := coord.LinkError(); err != nil {
		m = m.setNotice("", err)
		m.noticeSticky = true
	}

	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		m.statsCmd(),
		m.waitReply(),
	)
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(m.fps), func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) statsCmd() tea.Cmd {
	coord := m.shared.coord
	ctx := m.shared.ctx
	return tea.Tick(statsInterval, func(time.Time) tea.Msg {
		_ = coord.RefreshStatus(ctx)

		stats, err := coord.WorkerStats()
		return StatsMsg{Stats: stats, Err: err}
	})
}

func (m Model) waitReply() tea.Cmd {
	replies := m.shared.coord.Replies()
	return func() tea.Msg {
		r, ok := <-replies
		if !ok {
			return LinkDownMsg{}
		}
		return ReplyMsg(r)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// two pixel rows per terminal row
		err := m.shared.coord.Loop().Resize(m.width, 2*ui.BodyHeight(m.height), time.Now())
		if err != nil {
			return m.setNotice("", err), nil
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		r, err := m.shared.coord.Tick(time.Time(msg))
		switch {
		case errors.Is(err, render.ErrTornDown):
			return m, nil
		case err == nil:
			m.tick = r
		}
		return m, m.tickCmd()

	case StatsMsg:
		m.stats, m.statsOK = msg.Stats, msg.Err == nil
		return m, m.statsCmd()

	case ReplyMsg:
		if msg.Err != nil {
			m = m.setNotice("", fmt.Errorf("%s: %w", msg.Command, msg.Err))
		}
		return m, m.waitReply()

	case LinkDownMsg:
		return m.setNotice("", link.ErrNotConnected), nil

	case NoticeMsg:
		return m.setNotice(msg.Text, msg.Err), nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	coord := m.shared.coord
	ctx := m.shared.ctx

	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case " ":
		return m, func() tea.Msg {
			if err := coord.Pause(ctx); err != nil {
				return NoticeMsg{Err: err}
			}
			return nil
		}

	case "f", "F":
		return m, func() tea.Msg {
			sc, err := coord.NextPreset(ctx)
			if err != nil {
				return NoticeMsg{Err: err}
			}
			return NoticeMsg{Text: "switching to " + sc.String()}
		}

	case "+", "=":
		return m, m.stepResolution(1)

	case "-", "_":
		return m, m.stepResolution(-1)

	case "p", "P":
		m.showPulses = !m.showPulses
		coord.Loop().SetShowPulses(m.showPulses)
		return m.setNotice(fmt.Sprintf("pulses %s", onOff(m.showPulses)), nil), nil

	case "t", "T":
		i := slices.Index(render.Themes, m.theme)
		m.theme = render.Themes[(i+1)%len(render.Themes)]
		coord.Loop().SetTheme(m.theme)
		return m.setNotice(fmt.Sprintf("theme %s", m.theme), nil), nil

	case "s", "S":
		return m, m.snapshot()
	}

	return m, nil
}

func (m Model) stepResolution(delta int) tea.Cmd {
	coord := m.shared.coord
	ctx := m.shared.ctx

	return func() tea.Msg {
		sc, err := coord.StepResolution(ctx, delta)
		if err != nil {
			return NoticeMsg{Err: err}
		}
		return NoticeMsg{Text: fmt.Sprintf("%d bins", sc.BinCount())}
	}
}

func (m Model) snapshot() tea.Cmd {
	loop := m.shared.coord.Loop()
	path := filepath.Join(m.snapshotDir, fmt.Sprintf("softsa_%s.png", time.Now().Format("20060102_150405")))

	return func() tea.Msg {
		img, err := loop.Snapshot()
		if err != nil {
			return NoticeMsg{Err: err}
		}
		if err = SaveImage(path, img, ImagePNG); err != nil {
			return NoticeMsg{Err: err}
		}
		return NoticeMsg{Text: "saved " + path}
	}
}

func (m Model) setNotice(text string, err error) Model {
	m.notice, m.noticeErr = text, err != nil
	if err != nil {
		m.notice = err.Error()
	}
	m.noticeUntil = time.Now().Add(noticeTimeout)
	m.noticeSticky = false
	return m
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting spectral scan..."
	}

	coord := m.shared.coord
	status := coord.Status()

	config := coord.Current().String()
	menuBar := ui.RenderMenuBar(m.width, config)

	bodyH := ui.BodyHeight(m.height)
	var body string
	coord.Loop().Waterfall(func(img *image.RGBA) {
		body = ui.RenderWaterfall(img, m.width, bodyH)
	})
	if body == "" {
		body = ui.RenderWaterfall(nil, m.width, bodyH)
	}

	s := ui.Status{
		WorkerState:    status.State,
		Connected:      coord.Connected(),
		Rate:           m.tick.Rate,
		Dropped:        coord.FrameStats().Dropped,
		CenterFreq:     m.tick.Readout.CenterFreq,
		BluetoothPower: m.tick.Readout.BluetoothPower,
		PulseFreq:      m.tick.Readout.PulseFreq,
		CPU:            -1,
	}
	if m.statsOK {
		s.CPU, s.RSS = m.stats.CPUPercent, m.stats.RSS
	}
	if m.notice != "" && (m.noticeSticky || time.Now().Before(m.noticeUntil)) {
		s.Notice, s.NoticeError = m.notice, m.noticeErr
	}

	return ui.ComposeLayout(menuBar, body, ui.RenderStatusBar(m.width, s))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
