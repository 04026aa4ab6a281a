package ui

import "github.com/charmbracelet/lipgloss"

const (
	MenuHeight   = 1
	StatusHeight = 1
)

// BodyHeight returns the number of terminal rows left for the waterfall.
func BodyHeight(height int) int {
	return max(height-MenuHeight-StatusHeight, 1)
}

// ComposeLayout stacks the menu bar, the waterfall and the status bar.
func ComposeLayout(menuBar, body, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, menuBar, body, statusBar)
}
