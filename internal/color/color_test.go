package color

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func approxEqual(a, b RGB) bool {
	return math.Abs(a.R-b.R) < tolerance &&
		math.Abs(a.G-b.G) < tolerance &&
		math.Abs(a.B-b.B) < tolerance
}

func inUnitRange(c RGB) bool {
	for _, v := range []float64{c.R, c.G, c.B} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// indexAt converts a normalized position back into a color index
func indexAt(n float64) float64 {
	return n*(MaxIndex-MinIndex) + MinIndex
}

func TestFineEndpoints(t *testing.T) {
	tests := []struct {
		name  string
		index float64
		want  RGB
	}{
		{"hottest", MinIndex, RGB{0.6, 0.7, 1.0}},
		{"below range", -10, RGB{0.6, 0.7, 1.0}},
		{"white knee", indexAt(0.2), RGB{1.0, 1.0, 1.0}},
		{"yellow knee", indexAt(0.5), RGB{1.0, 1.0, 0.4}},
		{"orange knee", indexAt(0.7), RGB{1.0, 0.7, 0.4}},
		{"coolest", MaxIndex, RGB{1.0, 0.3, 0.3}},
		{"above range", 50, RGB{1.0, 0.3, 0.3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fine(tt.index)
			if !approxEqual(got, tt.want) {
				t.Errorf("Fine(%v) = %+v, want %+v", tt.index, got, tt.want)
			}
		})
	}
}

func TestFineContinuousAtBoundaries(t *testing.T) {
	const eps = 1e-9
	for _, n := range []float64{fineBlueEnd, fineWhiteEnd, fineOrangeEnd} {
		below := Fine(indexAt(n - eps))
		at := Fine(indexAt(n))
		if math.Abs(below.R-at.R) > 1e-6 || math.Abs(below.G-at.G) > 1e-6 || math.Abs(below.B-at.B) > 1e-6 {
			t.Errorf("discontinuity at n=%v: %+v vs %+v", n, below, at)
		}
	}
}

func TestCoarseBands(t *testing.T) {
	tests := []struct {
		index float64
		want  RGB
	}{
		{-3, Blue},
		{-0.1, Blue},
		{0, BlueWhite},
		{0.49, BlueWhite},
		{0.5, White},
		{0.99, White},
		{1.0, YellowWhite},
		{1.4, YellowWhite},
		{1.5, Orange},
		{2.4, Orange},
		{2.5, Red},
		{4.0, Red},
		{99, Red},
	}

	for _, tt := range tests {
		if got := Coarse(tt.index); got != tt.want {
			t.Errorf("Coarse(%v) = %+v, want %+v", tt.index, got, tt.want)
		}
	}
}

func TestMappingsDiverge(t *testing.T) {
	// Same input, different strategies, different output
	if Fine(1.2) == Coarse(1.2) {
		t.Errorf("expected fine and coarse mappings to differ at 1.2")
	}
}

func TestChannelsBoundedForAnyFiniteInput(t *testing.T) {
	inputs := []float64{
		-math.MaxFloat64, -1e6, -0.5000001, -0.5, 0, 0.3, 0.99, 1.75, 3.999, 4, 4.0001, 1e6, math.MaxFloat64,
	}
	for i := -100; i <= 100; i++ {
		inputs = append(inputs, float64(i)*0.07)
	}

	for _, in := range inputs {
		if c := Fine(in); !inUnitRange(c) {
			t.Errorf("Fine(%v) out of range: %+v", in, c)
		}
		if c := Coarse(in); !inUnitRange(c) {
			t.Errorf("Coarse(%v) out of range: %+v", in, c)
		}
	}
}
