package render

import (
	"image"
	"math"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/frame"
)

// Waterfall is a scrolling plot of scans, newest on the top row. Each bin is
// stretched to the same integer number of pixels; the remainder of the row
// is left black.
type Waterfall struct {
	plot *image.RGBA

	// stamps[i] is the scanner timestamp of row i, valid for i < rows
	stamps []int32
	rows   int

	centerFreq uint16
	numBins    int

	colors *ColorMapper
}

// NewWaterfall creates an empty waterfall of the given size.
func NewWaterfall(width, height int, colors *ColorMapper) *Waterfall {
	return &Waterfall{
		plot:   image.NewRGBA(image.Rect(0, 0, width, height)),
		stamps: make([]int32, height),
		colors: colors,
	}
}

// Image returns the plot. It is overwritten by Push.
func (w *Waterfall) Image() *image.RGBA {
	return w.plot
}

// SetColors swaps the color mapper for the rows pushed from now on.
func (w *Waterfall) SetColors(colors *ColorMapper) {
	w.colors = colors
}

// Push scrolls the plot down by one row and draws f on the top row. Bins
// covered by fresh pulses are highlighted, bins of pulses that ended with
// this scan are drawn red.
func (w *Waterfall) Push(f frame.Frame, fresh, ended []Pulse) {
	b := w.plot.Bounds()
	height, width := b.Dy(), b.Dx()
	if height == 0 || width == 0 || len(f.Bins) == 0 {
		return
	}

	stride := w.plot.Stride
	copy(w.plot.Pix[stride:], w.plot.Pix[:len(w.plot.Pix)-stride])
	copy(w.stamps[1:], w.stamps[:height-1])

	w.stamps[0] = f.Timestamp
	w.rows = min(w.rows+1, height)
	w.centerFreq = f.CenterFreq
	w.numBins = len(f.Bins)

	pixels := make([]uint32, len(f.Bins))
	for i, p := range f.Bins {
		pixels[i] = packRGBA(w.colors.GetColor(p))
	}

	for _, p := range ended {
		start, end := pulseBins(p, f.CenterFreq, len(f.Bins))
		for i := start; i < end; i++ {
			pixels[i] = packRGBA(endedPulseColor)
		}
	}
	for _, p := range fresh {
		start, end := pulseBins(p, f.CenterFreq, len(f.Bins))
		for i := start; i < end; i++ {
			pixels[i] = packRGBA(w.colors.PulseColor(f.Bins[i]))
		}
	}

	binWidth := width / len(f.Bins)
	row := w.plot.Pix[:stride]
	x := 0
	for _, px := range pixels {
		for j := 0; j < binWidth; j++ {
			putRGBA(row[x*4:], px)
			x++
		}
	}
	for ; x < width; x++ {
		putRGBA(row[x*4:], packRGBA(noDataColor))
	}
}

// Rows returns the number of rows drawn so far, up to the plot height.
func (w *Waterfall) Rows() int {
	return w.rows
}

// CenterFreq returns the center frequency of the newest row.
func (w *Waterfall) CenterFreq() uint16 {
	return w.centerFreq
}

// CenterPos returns the horizontal position of the span center as a
// fraction of the plot width, or NaN when nothing was drawn yet.
func (w *Waterfall) CenterPos() float64 {
	width := w.plot.Bounds().Dx()
	if w.rows == 0 || w.numBins == 0 || width == 0 {
		return math.NaN()
	}

	used := width - width%w.numBins
	return float64(used) / 2 / float64(width)
}

// Elapsed returns how much older the row at q quarters of the height is
// than the newest row. The second value is false when that row is empty or
// the difference is not positive.
func (w *Waterfall) Elapsed(q int) (time.Duration, bool) {
	height := w.plot.Bounds().Dy()
	row := height * q / 4
	if w.rows == 0 || row >= w.rows {
		return 0, false
	}

	diff := int64(w.stamps[0]) - int64(w.stamps[row])
	if diff <= 0 {
		return 0, false
	}

	return time.Duration(diff) * time.Microsecond, true
}

func pulseBins(p Pulse, centerFreq uint16, numBins int) (int, int) {
	centerNorm := (p.Center-float64(centerFreq))/frame.SpanWidth + 0.5
	bwNorm := p.Bandwidth / frame.SpanWidth

	centerBin := centerNorm * float64(numBins)
	bwBin := bwNorm * float64(numBins)

	start := max(int(math.Round(centerBin-bwBin/2)), 0)
	end := min(int(math.Round(centerBin+bwBin/2))+1, numBins)

	return start, max(start, end)
}

func packRGBA(c interface{ RGBA() (r, g, b, a uint32) }) uint32 {
	r, g, b, a := c.RGBA()
	return (r>>8)<<24 | (g>>8)<<16 | (b>>8)<<8 | a>>8
}

func putRGBA(dst []uint8, px uint32) {
	dst[0] = uint8(px >> 24)
	dst[1] = uint8(px >> 16)
	dst[2] = uint8(px >> 8)
	dst[3] = uint8(px)
}
