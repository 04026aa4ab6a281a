package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Title is shown at the left of the menu bar.
const Title = " softsa "

// RenderMenuBar renders the top bar: key bindings on the left, the scan
// configuration on the right.
func RenderMenuBar(width int, config string) string {
	keys := []struct{ key, label string }{
		{"SPC", " pause"},
		{"F", "req"},
		{"+/-", " bins"},
		{"P", "ulses"},
		{"T", "heme"},
		{"S", "napshot"},
		{"Q", "uit"},
	}

	var menu strings.Builder
	for _, k := range keys {
		menu.WriteString("  " + StyleMenuKey.Render("["+k.key+"]") + StyleMenuLabel.Render(k.label))
	}

	left := StyleMenuKey.Render(Title) + menu.String()
	right := StyleMenuLabel.Render(config) + " "

	return StyleMenuBar.Width(width).Render(left + pad(width-lipgloss.Width(left)-lipgloss.Width(right)-2) + right)
}

func pad(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(" ", n)
}
