package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/spectral-scan/internal/frame"
)

const (
	dpi           = 72.0
	largeFontSize = 20.0
	smallFontSize = 10.0
)

var overlayColor = image.NewUniform(color.RGBA{R: 0xff, G: 0xff, A: 0xff})

type textAlign int

const (
	alignLeft textAlign = iota
	alignCenter
	alignRight
)

// Overlay is what gets drawn on top of the waterfall. Unset values (zero
// durations, NaN) suppress their text.
type Overlay struct {
	Rate int

	// Elapsed holds the age of the rows at 1/4, 2/4 and 3/4 of the height.
	Elapsed [3]int64 // µs

	CenterPos  float64
	CenterFreq uint16

	Mode           DetectMode
	BluetoothPower float64
	PulseFreq      float64
}

// Annotator draws overlay text with the embedded Go font.
type Annotator struct {
	large *freetype.Context
	small *freetype.Context

	largeFace font.Face
	smallFace font.Face
}

// NewAnnotator parses the font and prepares both text sizes.
func NewAnnotator() (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	newContext := func(size float64) *freetype.Context {
		ctx := freetype.NewContext()
		ctx.SetDPI(dpi)
		ctx.SetFont(parsedFont)
		ctx.SetFontSize(size)
		ctx.SetHinting(font.HintingFull)
		ctx.SetSrc(overlayColor)
		return ctx
	}

	newFace := func(size float64) font.Face {
		return truetype.NewFace(parsedFont, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
	}

	return &Annotator{
		large:     newContext(largeFontSize),
		small:     newContext(smallFontSize),
		largeFace: newFace(largeFontSize),
		smallFace: newFace(smallFontSize),
	}, nil
}

func (a *Annotator) Close() error {
	return errors.Join(a.largeFace.Close(), a.smallFace.Close())
}

// Annotate draws the overlay on img.
func (a *Annotator) Annotate(img *image.RGBA, o Overlay) error {
	for _, ctx := range []*freetype.Context{a.large, a.small} {
		ctx.SetClip(img.Bounds())
		ctx.SetDst(img)
	}

	ops := []struct {
		msg string
		fn  func(*image.RGBA, Overlay) error
	}{
		{"drawing scan rate", a.drawRate},
		{"drawing row age", a.drawElapsed},
		{"drawing frequency labels", a.drawFrequencies},
		{"drawing detection readout", a.drawReadout},
	}
	for _, op := range ops {
		if err := op.fn(img, o); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *Annotator) drawRate(img *image.RGBA, o Overlay) error {
	size := img.Bounds().Size()
	y := size.Y - a.largeFace.Metrics().Descent.Ceil()
	return a.drawString(a.large, a.largeFace, fmt.Sprintf("%d scans/s", o.Rate), size.X, y, alignRight)
}

func (a *Annotator) drawElapsed(img *image.RGBA, o Overlay) error {
	size := img.Bounds().Size()

	for i, us := range o.Elapsed {
		if us <= 0 {
			continue
		}

		y := int(math.Round(float64(size.Y) / 4 * float64(i+1)))
		if err := a.drawString(a.small, a.smallFace, fmt.Sprintf("%d ms ago", us/1000), size.X, y, alignRight); err != nil {
			return err
		}
	}

	return nil
}

func (a *Annotator) drawFrequencies(img *image.RGBA, o Overlay) error {
	if math.IsNaN(o.CenterPos) {
		return nil
	}

	size := img.Bounds().Size()
	y := a.smallFace.Metrics().Ascent.Ceil()

	text := frequencyLabels(o.CenterFreq)

	labels := []struct {
		text  string
		x     int
		align textAlign
	}{
		{text[0], 0, alignLeft},
		{text[1], int(float64(size.X) * o.CenterPos), alignCenter},
		{text[2], size.X, alignRight},
	}

	for _, l := range labels {
		if err := a.drawString(a.small, a.smallFace, l.text, l.x, y, l.align); err != nil {
			return err
		}
	}

	return nil
}

func (a *Annotator) drawReadout(img *image.RGBA, o Overlay) error {
	var text string

	switch o.Mode {
	case DetectBluetooth:
		if math.IsNaN(o.BluetoothPower) {
			return nil
		}
		text = fmt.Sprintf("Bluetooth: %3.0f dBm", o.BluetoothPower)

	case DetectPulse:
		if math.IsNaN(o.PulseFreq) {
			return nil
		}
		text = fmt.Sprintf("Pulse: %.8f MHz", o.PulseFreq)

	default:
		return nil
	}

	y := img.Bounds().Dy() - a.largeFace.Metrics().Descent.Ceil()
	return a.drawString(a.large, a.largeFace, text, 0, y, alignLeft)
}

// drawString draws text with its baseline at y, anchored at x.
func (a *Annotator) drawString(ctx *freetype.Context, face font.Face, text string, x, y int, align textAlign) error {
	width := font.MeasureString(face, text)

	pt := freetype.Pt(x, y)
	switch align {
	case alignCenter:
		pt.X -= width / 2
	case alignRight:
		pt.X -= width
	}

	_, err := ctx.DrawString(text, pt)
	return err
}

// frequencyLabels returns the span start, center and end labels.
func frequencyLabels(center uint16) [3]string {
	c := int(center)
	return [3]string{
		fmt.Sprintf("%d MHz", c-frame.SpanWidth/2),
		fmt.Sprintf("%d MHz", c),
		fmt.Sprintf("%d MHz", c+frame.SpanWidth/2),
	}
}
