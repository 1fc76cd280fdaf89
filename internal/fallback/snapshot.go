// Package fallback serves star records from a small static JSON snapshot
// when the catalog store is unavailable.
package fallback

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/franz/starcat/internal/catalog"
	"github.com/franz/starcat/internal/color"
	"github.com/franz/starcat/internal/util"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cast"
)

// ErrSnapshotMissing is returned when the snapshot file does not exist
var ErrSnapshotMissing = errors.New("fallback snapshot not found")

// Field aliases, in lookup order
var (
	magnitudeKeys = []string{"phot_g_mean_mag", "magnitude"}
	parallaxKeys  = []string{"parallax_mas", "parallax"}
	pmraKeys      = []string{"pmra_mas_yr", "pmra", "pm_ra"}
	pmdecKeys     = []string{"pmdec_mas_yr", "pmdec", "pm_dec"}
	colorKeys     = []string{"bp_rp", "color_bp_rp"}
)

// Loader reads a snapshot once and answers queries by linear scan
type Loader struct {
	path string

	once  sync.Once
	stars []catalog.Star
	err   error
}

// NewLoader creates a loader for the snapshot at path. Nothing is read
// until the first query.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the snapshot path
func (l *Loader) Path() string {
	return l.path
}

// Available reports whether the snapshot file exists
func (l *Loader) Available() bool {
	if l == nil || l.path == "" {
		return false
	}
	_, err := os.Stat(l.path)
	return err == nil
}

func (l *Loader) load() ([]catalog.Star, error) {
	l.once.Do(func() {
		f, err := os.Open(l.path)
		if err != nil {
			if os.IsNotExist(err) {
				l.err = fmt.Errorf("%w: %s", ErrSnapshotMissing, l.path)
			} else {
				l.err = fmt.Errorf("failed to open snapshot: %w", err)
			}
			return
		}
		defer f.Close()

		var r io.Reader = f
		if isGzip(l.path) {
			zr, err := gzip.NewReader(f)
			if err != nil {
				l.err = fmt.Errorf("%s: %w: %v", l.path, util.ErrCorrupt, err)
				return
			}
			defer zr.Close()
			r = zr
		}

		stars, skipped, err := Parse(r)
		if err != nil {
			l.err = fmt.Errorf("%s: %w", l.path, err)
			return
		}
		if skipped > 0 {
			util.WarnLog("Snapshot %s: skipped %d records without a usable magnitude", l.path, skipped)
		}
		util.DebugLog("Loaded %d snapshot records from %s", len(stars), l.path)
		l.stars = stars
	})
	return l.stars, l.err
}

// All returns every snapshot record in file order
func (l *Loader) All() ([]catalog.Star, error) {
	stars, err := l.load()
	if err != nil {
		return nil, err
	}
	return append([]catalog.Star(nil), stars...), nil
}

// Bright returns records with magnitude < magLimit, brightest first
func (l *Loader) Bright(magLimit float64) ([]catalog.Star, error) {
	stars, err := l.load()
	if err != nil {
		return nil, err
	}

	out := make([]catalog.Star, 0)
	for _, s := range stars {
		if s.Magnitude < magLimit {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Magnitude < out[j].Magnitude
	})
	return out, nil
}

// Near returns records brighter than magLimit lying strictly within radius
// of (x, y, z), ordered by distance then magnitude and capped at maxResults
func (l *Loader) Near(x, y, z, radius float64, maxResults int, magLimit float64) ([]catalog.Star, error) {
	stars, err := l.load()
	if err != nil {
		return nil, err
	}

	type hit struct {
		star catalog.Star
		d    float64
	}
	hits := make([]hit, 0)
	for _, s := range stars {
		if !(s.Magnitude < magLimit) {
			continue
		}
		if d := s.DistanceTo(x, y, z); d < radius {
			hits = append(hits, hit{star: s, d: d})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].d != hits[j].d {
			return hits[i].d < hits[j].d
		}
		return hits[i].star.Magnitude < hits[j].star.Magnitude
	})

	if maxResults < len(hits) {
		hits = hits[:max(maxResults, 0)]
	}
	out := make([]catalog.Star, len(hits))
	for i, h := range hits {
		out[i] = h.star
	}
	return out, nil
}

// Parse decodes a snapshot: a JSON array of loosely typed objects. Records
// without a numeric magnitude are skipped and counted.
func Parse(r io.Reader) ([]catalog.Star, int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, 0, fmt.Errorf("%w: snapshot is not a JSON array of objects: %v", util.ErrCorrupt, err)
	}

	stars := make([]catalog.Star, 0, len(items))
	skipped := 0
	for i, item := range items {
		s, err := Normalize(item)
		if err != nil {
			util.DebugLog("Snapshot record %d skipped: %v", i, err)
			skipped++
			continue
		}
		if s.SourceID == "" {
			s.SourceID = "snapshot-" + strconv.Itoa(i)
		}
		stars = append(stars, s)
	}
	return stars, skipped, nil
}

// Normalize maps one snapshot object onto a Star: resolves field aliases,
// converts light-years to parsecs, projects to Cartesian coordinates and
// applies the coarse color bands.
func Normalize(item map[string]any) (catalog.Star, error) {
	mag, ok, err := number(item, magnitudeKeys...)
	if err != nil {
		return catalog.Star{}, err
	}
	if !ok {
		return catalog.Star{}, catalog.ErrMissingMagnitude
	}

	s := catalog.Star{
		SourceID:  text(item["source_id"]),
		Magnitude: mag,
	}

	if s.RA, _, err = number(item, "ra"); err != nil {
		return catalog.Star{}, err
	}
	if s.Dec, _, err = number(item, "dec"); err != nil {
		return catalog.Star{}, err
	}

	if v, ok, err := number(item, parallaxKeys...); err != nil {
		return catalog.Star{}, err
	} else if ok {
		s.Parallax = catalog.Float(v)
	}
	if s.ColorIndex, _, err = number(item, colorKeys...); err != nil {
		return catalog.Star{}, err
	}
	if s.PMRA, _, err = number(item, pmraKeys...); err != nil {
		return catalog.Star{}, err
	}
	if s.PMDec, _, err = number(item, pmdecKeys...); err != nil {
		return catalog.Star{}, err
	}
	if v, ok, _ := number(item, "radial_velocity"); ok {
		s.RadialVelocity = catalog.Float(v)
	}
	if v, ok, _ := number(item, "temperature"); ok {
		s.Temperature = catalog.Float(v)
	}

	s.Place(distance(item, s.Parallax, mag))
	s.Paint(color.Coarse)
	return s, nil
}

// distance prefers an explicit parsec value, then light-years, then the
// ingestion rule
func distance(item map[string]any, parallax *float64, mag float64) float64 {
	if d, ok, err := number(item, "distance_pc"); err == nil && ok && d > 0 {
		return d
	}
	if ly, ok, err := number(item, "distance_ly"); err == nil && ok && ly > 0 {
		return ly / catalog.LightYearsPerParsec
	}
	return catalog.Distance(parallax, mag)
}

// number returns the first non-null value among keys as a finite float
func number(item map[string]any, keys ...string) (float64, bool, error) {
	for _, key := range keys {
		raw, present := item[key]
		if !present || raw == nil {
			continue
		}
		switch t := raw.(type) {
		case json.Number:
			raw = t.String()
		case string:
			if s := strings.TrimSpace(t); s == "" || strings.EqualFold(s, "null") {
				continue
			}
		}
		v, err := cast.ToFloat64E(raw)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false, fmt.Errorf("%w: field %s: %v", catalog.ErrMalformedRow, key, raw)
		}
		return v, true, nil
	}
	return 0, false, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case json.Number:
		return t.String()
	default:
		return cast.ToString(t)
	}
}

// Write encodes stars as a snapshot that Parse reads back
func Write(w io.Writer, stars []catalog.Star) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if stars == nil {
		stars = []catalog.Star{}
	}
	return enc.Encode(stars)
}

// WriteFile writes a snapshot to path through a temporary file and renames
// it into place. Paths ending in .gz are gzip-compressed.
func WriteFile(path string, stars []catalog.Star) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if isGzip(path) {
		zw := gzip.NewWriter(f)
		if err := Write(zw, stars); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress snapshot: %w", err)
		}
	} else if err := Write(f, stars); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return util.RetryableRename(tmp, path, nil)
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}
