package render

import (
	"fmt"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme selects how bin power is mapped to a pixel color.
type ColorTheme string

const (
	NativeTheme    ColorTheme = "native"    // Scanner palette, purple to pale yellow
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white

	// DefaultColorMapSize covers every int8 power value.
	DefaultColorMapSize = 256
)

// PowerBounds is the power range (dBm) the color map is stretched over.
type PowerBounds struct {
	Min float64
	Max float64
}

// DefaultPowerBounds covers the useful range of the scanner readings.
var DefaultPowerBounds = PowerBounds{Min: -110, Max: -20}

// Themes lists the available color themes.
var Themes = []ColorTheme{NativeTheme, ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme}

var (
	endedPulseColor = color.RGBA{R: 0xff, A: 0xff}
	noDataColor     = color.RGBA{A: 0xff}
)

// ParseColorTheme validates a theme name.
func ParseColorTheme(s string) (ColorTheme, error) {
	switch t := ColorTheme(s); t {
	case NativeTheme, ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme:
		return t, nil
	case "":
		return NativeTheme, nil
	default:
		return "", fmt.Errorf("unknown color theme: %s", s)
	}
}

// ColorMapper maps int8 bin powers to colors through a lookup table built
// once per theme.
type ColorMapper struct {
	colorMap  [DefaultColorMapSize]color.RGBA
	themeName ColorTheme
}

// NewColorMapper creates a color mapper with the given theme and bounds. The
// native theme ignores bounds.
func NewColorMapper(theme ColorTheme, bounds PowerBounds) *ColorMapper {
	cm := ColorMapper{themeName: theme}

	fn := getColorTheme(theme)
	span := bounds.Max - bounds.Min

	for i := range cm.colorMap {
		pwr := int8(i - 128)

		if theme == NativeTheme {
			cm.colorMap[i] = nativeColor(int(pwr), false)
			continue
		}

		normalized := 0.0
		if span > 0 {
			normalized = (float64(pwr) - bounds.Min) / span
		}
		normalized = math.Max(0, math.Min(1, normalized))

		cm.colorMap[i] = fn(normalized)
	}

	return &cm
}

// GetColor returns the color for a bin power.
func (cm *ColorMapper) GetColor(pwr int8) color.RGBA {
	return cm.colorMap[int(pwr)+128]
}

// PulseColor returns the highlight for a bin covered by a pulse detected in
// the current scan.
func (cm *ColorMapper) PulseColor(pwr int8) color.RGBA {
	return nativeColor(int(pwr), true)
}

// ThemeName returns the current color theme name
func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

// nativeColor reproduces the scanner's 16-bit palette.
func nativeColor(pwr int, pulse bool) color.RGBA {
	if pulse {
		return rgb565(0x80+pwr, 0xc0+pwr/2, 0x40+pwr/2)
	}
	return rgb565(0x80+pwr, 0x40+pwr/2, 0xc0+pwr/2)
}

// rgb565 quantizes a color the way an RGB 565 surface stores it.
func rgb565(r, g, b int) color.RGBA {
	clamp := func(v int) uint8 {
		return uint8(max(0, min(0xff, v)))
	}

	return color.RGBA{
		R: clamp(r) &^ 0x07,
		G: clamp(g) &^ 0x03,
		B: clamp(b) &^ 0x07,
		A: 0xff,
	}
}

func hsv(h, s, v float64) color.RGBA {
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Color theme implementations
func getColorTheme(theme ColorTheme) func(float64) color.RGBA {
	switch theme {
	case ClassicTheme:
		return func(power float64) color.RGBA {
			return hsv(240-(power*240), 0.9+(power*0.1), math.Pow(power, 0.7))
		}

	case GrayscaleTheme:
		return func(power float64) color.RGBA {
			v := uint8(math.Pow(power, 0.7) * 255)
			return color.RGBA{R: v, G: v, B: v, A: 0xff}
		}

	case JungleTheme:
		return func(power float64) color.RGBA {
			return hsv(120-(power*60), 1.0, 0.3+(math.Pow(power, 0.6)*0.7))
		}

	case ThermalTheme:
		return func(power float64) color.RGBA {
			if power < 0.33 {
				return color.RGBA{R: uint8((power * 3) * 255), A: 0xff}
			}
			if power < 0.66 {
				return color.RGBA{R: 255, G: uint8(((power - 0.33) * 3) * 255), A: 0xff}
			}
			return color.RGBA{R: 255, G: 255, B: uint8(math.Min(1, (power-0.66)*3) * 255), A: 0xff}
		}

	case MarineTheme:
		return func(power float64) color.RGBA {
			return hsv(240-(power*60), 1.0-(power*0.8), 0.3+(math.Pow(power, 0.6)*0.7))
		}

	default: // Enhanced default theme
		return func(power float64) color.RGBA {
			enhanced := math.Pow(power, 0.7)

			switch {
			case power < 0.25:
				return hsv(240, 1.0, math.Min(1, enhanced*4))
			case power < 0.5:
				return hsv(240-((power-0.25)*240), 1.0, math.Min(1, enhanced*1.5))
			case power < 0.75:
				p := (power - 0.5) * 4
				return hsv(180-(p*120), 1.0, math.Min(1.0, enhanced*1.5))
			default:
				p := (power - 0.75) * 4
				return hsv(60-(p*60), 1.0, 1.0)
			}
		}
	}
}
