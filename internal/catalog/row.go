package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/franz/starcat/internal/color"
)

// Archive column names consumed by Transform
const (
	ColSourceID       = "source_id"
	ColRA             = "ra"
	ColDec            = "dec"
	ColParallax       = "parallax"
	ColPMRA           = "pmra"
	ColPMDec          = "pmdec"
	ColMagnitude      = "phot_g_mean_mag"
	ColColorIndex     = "bp_rp"
	ColRadialVelocity = "radial_velocity"
	ColTemperature    = "temperature"

	// ColRowError is set by readers on rows they could not split into the
	// header's columns. It never names an archive column.
	ColRowError = "_row_error"
)

var (
	// ErrMissingMagnitude marks a row without a G-band magnitude
	ErrMissingMagnitude = errors.New("missing magnitude")

	// ErrMalformedRow marks a row with a required field missing or unparsable
	ErrMalformedRow = errors.New("malformed row")
)

// RawRow is one archive result row keyed by lowercase column name.
// Empty values are nulls.
type RawRow map[string]string

// ID returns the row's source identifier, or "" if absent
func (r RawRow) ID() string {
	return strings.TrimSpace(r[ColSourceID])
}

// optional parses a nullable numeric column. ok is false for null; err is
// set when the column holds something that is not a finite number.
func (r RawRow) optional(col string) (v float64, ok bool, err error) {
	raw := strings.TrimSpace(r[col])
	switch strings.ToLower(raw) {
	case "", "null", "nan", "--":
		return 0, false, nil
	}

	v, err = strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false, fmt.Errorf("%w: column %s: %q", ErrMalformedRow, col, raw)
	}
	return v, true, nil
}

func (r RawRow) required(col string) (float64, error) {
	v, ok, err := r.optional(col)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: column %s is null", ErrMalformedRow, col)
	}
	return v, nil
}

// Transform derives a Star from an archive row.
//
// Magnitude, RA, Dec and the identifier are required; any other column that
// is null defaults (color index and proper motion to 0, the rest to absent).
// The display color uses the fine mapping.
func Transform(row RawRow) (Star, error) {
	if msg := row[ColRowError]; msg != "" {
		return Star{}, fmt.Errorf("%w: %s", ErrMalformedRow, msg)
	}

	id := row.ID()
	if id == "" {
		return Star{}, fmt.Errorf("%w: column %s is null", ErrMalformedRow, ColSourceID)
	}

	mag, hasMag, err := row.optional(ColMagnitude)
	if err != nil {
		return Star{}, err
	}
	if !hasMag {
		return Star{}, ErrMissingMagnitude
	}

	ra, err := row.required(ColRA)
	if err != nil {
		return Star{}, err
	}
	dec, err := row.required(ColDec)
	if err != nil {
		return Star{}, err
	}

	s := Star{
		SourceID:  id,
		RA:        ra,
		Dec:       dec,
		Magnitude: mag,
	}

	if v, ok, err := row.optional(ColParallax); err != nil {
		return Star{}, err
	} else if ok {
		s.Parallax = Float(v)
	}

	if v, ok, err := row.optional(ColColorIndex); err != nil {
		return Star{}, err
	} else if ok {
		s.ColorIndex = v
	}

	if v, ok, err := row.optional(ColPMRA); err != nil {
		return Star{}, err
	} else if ok {
		s.PMRA = v
	}

	if v, ok, err := row.optional(ColPMDec); err != nil {
		return Star{}, err
	} else if ok {
		s.PMDec = v
	}

	if v, ok, err := row.optional(ColRadialVelocity); err != nil {
		return Star{}, err
	} else if ok {
		s.RadialVelocity = Float(v)
	}

	if v, ok, err := row.optional(ColTemperature); err != nil {
		return Star{}, err
	} else if ok {
		s.Temperature = Float(v)
	}

	s.Place(Distance(s.Parallax, s.Magnitude))
	s.Paint(color.Fine)

	return s, nil
}
