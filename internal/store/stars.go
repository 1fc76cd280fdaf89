package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/franz/starcat/internal/catalog"
)

// NearQuery selects stars around a camera position
type NearQuery struct {
	X, Y, Z        float64 // Camera position, parsecs
	MaxDistance    float64 // Exclusive radius around the camera, parsecs
	MaxResults     int
	MagnitudeLimit float64 // Exclusive; only stars brighter than this
}

// InsertStars inserts records inside tx using one prepared statement
func InsertStars(tx *sql.Tx, stars []catalog.Star) error {
	stmt, err := tx.Prepare(`
		INSERT INTO stars (
			source_id, ra, dec, x, y, z, parallax, distance_pc, magnitude,
			bp_rp, r, g, b, pmra, pmdec, radial_velocity, temperature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range stars {
		s := &stars[i]
		_, err := stmt.Exec(
			s.SourceID, s.RA, s.Dec, s.X, s.Y, s.Z,
			nullable(s.Parallax), s.DistancePC, s.Magnitude,
			s.ColorIndex, s.R, s.G, s.B, s.PMRA, s.PMDec,
			nullable(s.RadialVelocity), nullable(s.Temperature),
		)
		if err != nil {
			return fmt.Errorf("failed to insert star %s: %w", s.SourceID, err)
		}
	}

	return nil
}

// Near returns stars with magnitude < MagnitudeLimit whose distance from the
// camera is < MaxDistance, ordered by (distance, magnitude) and capped at
// MaxResults.
//
// The magnitude predicate and a bounding box around the camera are applied
// in SQL so the scan is driven by idx_magnitude or idx_position; the exact
// sphere test runs on squared distance so no SQL math functions are needed.
func (s *Store) Near(ctx context.Context, q NearQuery) ([]catalog.Star, error) {
	if q.MaxResults <= 0 || !(q.MaxDistance > 0) {
		return []catalog.Star{}, nil
	}

	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	r := q.MaxDistance
	r2 := r * r
	if math.IsInf(r, 1) {
		r2 = math.MaxFloat64
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+starColumns+`
		FROM stars
		WHERE magnitude < ?
		  AND x BETWEEN ? AND ?
		  AND y BETWEEN ? AND ?
		  AND z BETWEEN ? AND ?
		  AND ((x - ?) * (x - ?) + (y - ?) * (y - ?) + (z - ?) * (z - ?)) < ?
		ORDER BY ((x - ?) * (x - ?) + (y - ?) * (y - ?) + (z - ?) * (z - ?)) ASC,
		         magnitude ASC, source_id ASC
		LIMIT ?
	`,
		q.MagnitudeLimit,
		q.X-r, q.X+r,
		q.Y-r, q.Y+r,
		q.Z-r, q.Z+r,
		q.X, q.X, q.Y, q.Y, q.Z, q.Z, r2,
		q.X, q.X, q.Y, q.Y, q.Z, q.Z,
		q.MaxResults,
	)
	if err != nil {
		return nil, fmt.Errorf("near query failed: %w", err)
	}
	defer rows.Close()

	stars, err := scanStars(rows, q.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("near query failed: %w", err)
	}

	// sqrt of a squared distance just under r2 can round up to r
	kept := stars[:0]
	for _, st := range stars {
		if st.DistanceTo(q.X, q.Y, q.Z) < q.MaxDistance {
			kept = append(kept, st)
		}
	}

	return kept, nil
}

// Bright returns every star with magnitude < limit, brightest first
func (s *Store) Bright(ctx context.Context, limit float64) ([]catalog.Star, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+starColumns+`
		FROM stars
		WHERE magnitude < ?
		ORDER BY magnitude ASC, source_id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("bright query failed: %w", err)
	}
	defer rows.Close()

	stars, err := scanStars(rows, 0)
	if err != nil {
		return nil, fmt.Errorf("bright query failed: %w", err)
	}
	return stars, nil
}

// Count returns the number of stored stars
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stars").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stars: %w", err)
	}
	return n, nil
}

// MagnitudeRange returns the brightest and faintest stored magnitude.
// ok is false for an empty catalog.
func (s *Store) MagnitudeRange(ctx context.Context) (brightest, faintest float64, ok bool, err error) {
	if err := s.acquire(); err != nil {
		return 0, 0, false, err
	}
	defer s.mu.RUnlock()

	var lo, hi sql.NullFloat64
	err = s.db.QueryRowContext(ctx, "SELECT MIN(magnitude), MAX(magnitude) FROM stars").Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to read magnitude range: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Float64, hi.Float64, true, nil
}

func scanStars(rows *sql.Rows, capacity int) ([]catalog.Star, error) {
	stars := make([]catalog.Star, 0, capacity)
	for rows.Next() {
		var st catalog.Star
		var parallax, distance, r, g, b, rv, temp sql.NullFloat64

		err := rows.Scan(
			&st.SourceID, &st.RA, &st.Dec, &st.X, &st.Y, &st.Z,
			&parallax, &distance, &st.Magnitude,
			&st.ColorIndex, &r, &g, &b, &st.PMRA, &st.PMDec,
			&rv, &temp,
		)
		if err != nil {
			return nil, err
		}

		st.Parallax = pointer(parallax)
		st.RadialVelocity = pointer(rv)
		st.Temperature = pointer(temp)
		st.DistancePC = distance.Float64
		if !distance.Valid {
			st.DistancePC = catalog.Distance(st.Parallax, st.Magnitude)
		}
		st.R, st.G, st.B = r.Float64, g.Float64, b.Float64

		stars = append(stars, st)
	}
	return stars, rows.Err()
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func pointer(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return catalog.Float(v.Float64)
}
