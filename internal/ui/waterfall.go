package ui

import (
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

const halfBlock = "▀"

// RenderWaterfall draws img as width x height terminal cells. Every cell
// shows two pixel rows: the upper one as the foreground of a half block, the
// lower one as its background. Runs of equal cells share one style.
func RenderWaterfall(img *image.RGBA, width, height int) string {
	if img == nil || width <= 0 || height <= 0 {
		return StyleEmpty.Width(width).Height(height).Render("no signal")
	}

	b := img.Bounds()
	lines := make([]string, height)

	for row := range lines {
		var (
			line  strings.Builder
			run   int
			style lipgloss.Style
			last  [2]color.RGBA
		)

		flush := func() {
			if run > 0 {
				line.WriteString(style.Render(strings.Repeat(halfBlock, run)))
			}
		}

		for col := 0; col < width; col++ {
			cell := [2]color.RGBA{
				sample(img, b, col, 2*row),
				sample(img, b, col, 2*row+1),
			}
			if run > 0 && cell == last {
				run++
				continue
			}

			flush()
			last, run = cell, 1
			style = lipgloss.NewStyle().
				Foreground(lipgloss.Color(hex(cell[0]))).
				Background(lipgloss.Color(hex(cell[1])))
		}
		flush()

		lines[row] = line.String()
	}

	return strings.Join(lines, "\n")
}

func sample(img *image.RGBA, b image.Rectangle, x, y int) color.RGBA {
	p := image.Pt(b.Min.X+x, b.Min.Y+y)
	if !p.In(b) {
		return color.RGBA{A: 0xff}
	}
	return img.RGBAAt(p.X, p.Y)
}

func hex(c color.RGBA) string {
	cf, _ := colorful.MakeColor(c)
	return cf.Hex()
}
