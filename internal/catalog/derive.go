package catalog

import (
	"math"

	"github.com/franz/starcat/internal/color"
)

// Distance bounds applied to parallax-derived distances, in parsecs
const (
	MinDistancePC = 0.1
	MaxDistancePC = 100000.0
)

// LightYearsPerParsec converts light-years to parsecs by division
const LightYearsPerParsec = 3.26156

// ParallaxDistance converts a parallax in milliarcseconds to parsecs,
// clamped to [MinDistancePC, MaxDistancePC]. ok is false when parallax is
// not a usable positive value.
func ParallaxDistance(parallaxMas float64) (distancePC float64, ok bool) {
	if !(parallaxMas > 0) || math.IsInf(parallaxMas, 0) {
		return 0, false
	}
	d := 1000.0 / parallaxMas
	return math.Max(MinDistancePC, math.Min(d, MaxDistancePC)), true
}

// PhotometricDistance estimates distance from apparent magnitude alone,
// 10^((m-5)/5+1). The result is not clamped.
func PhotometricDistance(magnitude float64) float64 {
	return math.Pow(10, (magnitude-5)/5+1)
}

// Distance applies the ingestion rule: parallax when present and positive,
// otherwise the photometric estimate.
func Distance(parallaxMas *float64, magnitude float64) float64 {
	if parallaxMas != nil {
		if d, ok := ParallaxDistance(*parallaxMas); ok {
			return d
		}
	}
	return PhotometricDistance(magnitude)
}

// ToCartesian projects equatorial coordinates (degrees) at distance d onto
// x, y, z in the units of d
func ToCartesian(raDeg, decDeg, d float64) (x, y, z float64) {
	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	cosDec := math.Cos(dec)
	return d * cosDec * math.Cos(ra), d * cosDec * math.Sin(ra), d * math.Sin(dec)
}

// FromCartesian inverts ToCartesian. RA is returned in [0, 360).
func FromCartesian(x, y, z float64) (raDeg, decDeg, d float64) {
	d = math.Sqrt(x*x + y*y + z*z)
	if d == 0 {
		return 0, 0, 0
	}
	raDeg = math.Atan2(y, x) * 180 / math.Pi
	if raDeg < 0 {
		raDeg += 360
	}
	decDeg = math.Asin(z/d) * 180 / math.Pi
	return raDeg, decDeg, d
}

// Place fills in position and distance from RA/Dec and a distance in parsecs
func (s *Star) Place(distancePC float64) {
	s.DistancePC = distancePC
	s.X, s.Y, s.Z = ToCartesian(s.RA, s.Dec, distancePC)
}

// Paint fills in the display color from the color index
func (s *Star) Paint(mapping func(float64) color.RGB) {
	c := mapping(s.ColorIndex)
	s.R, s.G, s.B = c.R, c.G, c.B
}

// DistanceTo returns the Euclidean distance from the point (x, y, z)
func (s *Star) DistanceTo(x, y, z float64) float64 {
	dx, dy, dz := s.X-x, s.Y-y, s.Z-z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
