package color

// Band colors used by Coarse
var (
	Blue        = RGB{R: 0.6, G: 0.7, B: 1.0}
	BlueWhite   = RGB{R: 0.8, G: 0.9, B: 1.0}
	White       = RGB{R: 1.0, G: 1.0, B: 1.0}
	YellowWhite = RGB{R: 1.0, G: 0.95, B: 0.7}
	Orange      = RGB{R: 1.0, G: 0.8, B: 0.5}
	Red         = RGB{R: 1.0, G: 0.6, B: 0.4}
)

// Coarse classifies a color index into one of six fixed bands.
// The raw index is clamped to [MinIndex, MaxIndex] first; NaN is treated as
// the hottest band.
func Coarse(colorIndex float64) RGB {
	ci := clamp(colorIndex, MinIndex, MaxIndex)

	switch {
	case ci < 0:
		return Blue
	case ci < 0.5:
		return BlueWhite
	case ci < 1.0:
		return White
	case ci < 1.5:
		return YellowWhite
	case ci < 2.5:
		return Orange
	default:
		return Red
	}
}
