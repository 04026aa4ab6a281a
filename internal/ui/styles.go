package ui

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	ColorAccent  = lipgloss.Color("#FFE8A0")
	ColorText    = lipgloss.Color("#D8C8F0")
	ColorDim     = lipgloss.Color("#6A5A8A")
	ColorBar     = lipgloss.Color("#1E1030")
	ColorRunning = lipgloss.Color("#7CFC9A")
	ColorWarning = lipgloss.Color("#FFAA00")
	ColorError   = lipgloss.Color("#FF3300")
)

var (
	StyleMenuBar = lipgloss.NewStyle().
			Background(ColorBar).
			Foreground(ColorAccent).
			Bold(true).
			Padding(0, 1)

	StyleMenuKey = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleMenuLabel = lipgloss.NewStyle().
			Foreground(ColorText)

	StyleStatusBar = lipgloss.NewStyle().
			Background(ColorBar).
			Foreground(ColorText).
			Padding(0, 1)

	StyleRunning = lipgloss.NewStyle().
			Foreground(ColorRunning).
			Bold(true)

	StyleStopped = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	StyleDisconnected = lipgloss.NewStyle().
				Foreground(ColorError).
				Bold(true)

	StyleNotice = lipgloss.NewStyle().
			Foreground(ColorAccent)

	StyleNoticeError = lipgloss.NewStyle().
				Foreground(ColorError).
				Bold(true)

	StyleEmpty = lipgloss.NewStyle().
			Foreground(ColorDim)
)
