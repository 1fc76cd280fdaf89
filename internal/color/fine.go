package color

// Fine segment boundaries over the normalized index
const (
	fineBlueEnd   = 0.2
	fineWhiteEnd  = 0.5
	fineOrangeEnd = 0.7
)

// Fine maps a color index by piecewise-linear interpolation.
//
// The index is normalized to n in [0,1] over [MinIndex, MaxIndex] and split
// into four segments: blue->white, white->yellow, yellow->orange and
// orange->red. Adjacent segments meet at the same color.
func Fine(colorIndex float64) RGB {
	n := clamp((colorIndex-MinIndex)/(MaxIndex-MinIndex), 0, 1)

	var c RGB
	switch {
	case n < fineBlueEnd:
		// (0.6, 0.7, 1.0) -> (1.0, 1.0, 1.0)
		c = RGB{R: 0.6 + n*2.0, G: 0.7 + n*1.5, B: 1.0}
	case n < fineWhiteEnd:
		// (1.0, 1.0, 1.0) -> (1.0, 1.0, 0.4)
		c = RGB{R: 1.0, G: 1.0, B: 1.0 - (n-fineBlueEnd)*2.0}
	case n < fineOrangeEnd:
		// (1.0, 1.0, 0.4) -> (1.0, 0.7, 0.4)
		c = RGB{R: 1.0, G: 1.0 - (n-fineWhiteEnd)*1.5, B: 0.4}
	default:
		// (1.0, 0.7, 0.4) -> (1.0, 0.3, 0.3)
		t := n - fineOrangeEnd
		c = RGB{R: 1.0, G: 0.7 - t*(4.0/3.0), B: 0.4 - t/3.0}
	}

	return c.clamped()
}
