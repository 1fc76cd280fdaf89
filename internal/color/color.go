// Package color maps a BP-RP color index onto a displayable RGB triple.
//
// Two mappings coexist. Fine interpolates continuously and is baked into
// records at ingestion time. Coarse assigns one of six fixed bands and is
// used for records derived at query time from the fallback snapshot. They
// produce different output for the same input and are kept separate so that
// neither call path changes appearance when the other is tuned.
package color

import "math"

// RGB is a display color with channels in [0,1]
type RGB struct {
	R float64
	G float64
	B float64
}

// Color index range covered by both mappings
const (
	MinIndex = -0.5
	MaxIndex = 4.0
)

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func (c RGB) clamped() RGB {
	return RGB{
		R: clamp(c.R, 0, 1),
		G: clamp(c.G, 0, 1),
		B: clamp(c.B, 0, 1),
	}
}
