// Package catalog defines the star record and the derivations that turn raw
// archive rows into records: distance, Cartesian position and display color.
package catalog

// Star is a single catalog entry. Records are produced by an ingestion run
// or by the fallback loader and never modified afterwards.
type Star struct {
	SourceID       string   `json:"source_id"`
	RA             float64  `json:"ra"`
	Dec            float64  `json:"dec"`
	X              float64  `json:"x"`
	Y              float64  `json:"y"`
	Z              float64  `json:"z"`
	Parallax       *float64 `json:"parallax"`
	DistancePC     float64  `json:"distance_pc"`
	Magnitude      float64  `json:"magnitude"`
	ColorIndex     float64  `json:"color_bp_rp"`
	R              float64  `json:"r"`
	G              float64  `json:"g"`
	B              float64  `json:"b"`
	PMRA           float64  `json:"pm_ra"`
	PMDec          float64  `json:"pm_dec"`
	RadialVelocity *float64 `json:"radial_velocity"`
	Temperature    *float64 `json:"temperature"`
}

// Float returns a pointer to v, for optional fields
func Float(v float64) *float64 {
	return &v
}
