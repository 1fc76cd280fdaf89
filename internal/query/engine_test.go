package query

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/franz/starcat/internal/catalog"
	"github.com/franz/starcat/internal/color"
	"github.com/franz/starcat/internal/fallback"
	"github.com/franz/starcat/internal/store"
	"github.com/franz/starcat/internal/util"
)

func star(id string, d, mag, ci float64) catalog.Star {
	s := catalog.Star{SourceID: id, Magnitude: mag, ColorIndex: ci}
	s.Place(d)
	s.Paint(color.Fine)
	return s
}

func buildStore(t *testing.T, path string, stars ...catalog.Star) {
	t.Helper()
	if err := store.Build(context.Background(), path, stars, nil); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
}

func writeSnapshot(t *testing.T, body string) *fallback.Loader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bright_catalog.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	return fallback.NewLoader(path)
}

func newEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func ids(stars []catalog.Star) []string {
	out := make([]string, len(stars))
	for i, s := range stars {
		out[i] = s.SourceID
	}
	return out
}

const snapshot = `[
	{"source_id": "s8", "phot_g_mean_mag": 8, "ra": 0, "dec": 0, "distance_pc": 5},
	{"source_id": "s2", "phot_g_mean_mag": 2, "ra": 0, "dec": 0, "distance_pc": 50},
	{"source_id": "s4", "magnitude": 4, "ra": 90, "dec": 0, "distance_ly": 9.78468}
]`

func TestNearFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path,
		star("a", 5, 3, 0.5),
		star("b", 15, 1, 0.5),
		star("c", 5, 5, 0.5),
	)
	e := newEngine(t, &Config{StorePath: path})

	res, err := e.Near(context.Background(), NearParams{MaxDistance: 10, MaxResults: 100, MagnitudeLimit: 15})
	if err != nil {
		t.Fatalf("Near failed: %v", err)
	}

	if res.Source != SourceStore {
		t.Errorf("source = %s, want store", res.Source)
	}
	got := ids(res.Stars)
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("got %v, want [a c]", got)
	}
}

func TestNearOrderingAndCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	var stars []catalog.Star
	for i := 0; i < 40; i++ {
		stars = append(stars, star(string(rune('A'+i%26))+string(rune('a'+i/26)), float64(1+i%8), float64(i%5), 1))
	}
	buildStore(t, path, stars...)
	e := newEngine(t, &Config{StorePath: path})

	res, err := e.Near(context.Background(), NearParams{X: 0.5, MaxDistance: 6, MaxResults: 12, MagnitudeLimit: 4})
	if err != nil {
		t.Fatalf("Near failed: %v", err)
	}
	if len(res.Stars) > 12 {
		t.Fatalf("got %d stars, cap is 12", len(res.Stars))
	}

	prevD, prevMag := -1.0, -1.0
	for _, s := range res.Stars {
		d := s.DistanceTo(0.5, 0, 0)
		if d >= 6 {
			t.Errorf("star %s at distance %v outside radius", s.SourceID, d)
		}
		if s.Magnitude >= 4 {
			t.Errorf("star %s magnitude %v not below limit", s.SourceID, s.Magnitude)
		}
		if d < prevD || (d == prevD && s.Magnitude < prevMag) {
			t.Errorf("star %s out of order", s.SourceID)
		}
		prevD, prevMag = d, s.Magnitude
	}
}

func TestNearInvalidInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("a", 1, 1, 0))
	e := newEngine(t, &Config{StorePath: path})

	tests := []struct {
		name string
		p    NearParams
	}{
		{"zero cap", NearParams{MaxDistance: 10, MaxResults: 0, MagnitudeLimit: 10}},
		{"negative cap", NearParams{MaxDistance: 10, MaxResults: -5, MagnitudeLimit: 10}},
		{"nan position", NearParams{X: math.NaN(), MaxDistance: 10, MaxResults: 5, MagnitudeLimit: 10}},
		{"nan radius", NearParams{MaxDistance: math.NaN(), MaxResults: 5, MagnitudeLimit: 10}},
		{"nan limit", NearParams{MaxDistance: 10, MaxResults: 5, MagnitudeLimit: math.NaN()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Near(context.Background(), tt.p)
			if err != nil {
				t.Fatalf("Near failed: %v", err)
			}
			if len(res.Stars) != 0 || res.Source != SourceNone {
				t.Errorf("expected empty result, got %d stars from %s", len(res.Stars), res.Source)
			}
		})
	}
}

func TestBrightFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("a", 5, 6, 0), star("b", 5, 1, 0), star("c", 5, 3, 0), star("d", 5, 9, 0))
	e := newEngine(t, &Config{StorePath: path})

	res, err := e.Bright(context.Background(), 6.5)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	got := ids(res.Stars)
	if len(got) != 3 || got[0] != "b" || got[1] != "c" || got[2] != "a" {
		t.Errorf("got %v, want [b c a]", got)
	}
}

func TestBrightFallsBackWhenStoreMissing(t *testing.T) {
	e := newEngine(t, &Config{
		StorePath: filepath.Join(t.TempDir(), "missing.db"),
		Fallback:  writeSnapshot(t, snapshot),
	})

	res, err := e.Bright(context.Background(), 5)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if res.Source != SourceFallback {
		t.Errorf("source = %s, want fallback", res.Source)
	}
	if len(res.Stars) != 2 || res.Stars[0].Magnitude != 2 || res.Stars[1].Magnitude != 4 {
		t.Errorf("got magnitudes %v, want [2 4]", magnitudes(res.Stars))
	}
	for _, s := range res.Stars {
		if got := (color.RGB{R: s.R, G: s.G, B: s.B}); got != color.BlueWhite {
			t.Errorf("star %s color %+v, want coarse blue-white", s.SourceID, got)
		}
	}
}

func TestNearFallsBackWhenStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	if err := os.WriteFile(path, bytes.Repeat([]byte("not sqlite "), 512), 0644); err != nil {
		t.Fatal(err)
	}
	e := newEngine(t, &Config{StorePath: path, Fallback: writeSnapshot(t, snapshot)})

	res, err := e.Near(context.Background(), NearParams{MaxDistance: 10, MaxResults: 10, MagnitudeLimit: 9})
	if err != nil {
		t.Fatalf("Near failed: %v", err)
	}
	if res.Source != SourceFallback {
		t.Errorf("source = %s, want fallback", res.Source)
	}
	got := ids(res.Stars)
	if len(got) != 2 || got[0] != "s4" || got[1] != "s8" {
		t.Errorf("got %v, want [s4 s8]", got)
	}
}

func TestEmptyWhenNothingAvailable(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, &Config{
		StorePath: filepath.Join(dir, "missing.db"),
		Fallback:  fallback.NewLoader(filepath.Join(dir, "missing.json")),
	})

	res, err := e.Bright(context.Background(), 6)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if res.Source != SourceNone || len(res.Stars) != 0 {
		t.Errorf("expected empty result, got %d stars from %s", len(res.Stars), res.Source)
	}
	if res.Stars == nil {
		t.Error("expected non-nil empty slice")
	}
}

func TestStoreAppearsAfterStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	e := newEngine(t, &Config{StorePath: path, Fallback: writeSnapshot(t, snapshot)})

	// More misses than the default breaker threshold
	for i := 0; i < 5; i++ {
		res, err := e.Bright(context.Background(), 10)
		if err != nil || res.Source != SourceFallback {
			t.Fatalf("query %d: source %v err %v", i, res.Source, err)
		}
	}
	if state := e.Stats().BreakerState; state != "closed" {
		t.Fatalf("breaker state = %s after missing store, want closed", state)
	}

	buildStore(t, path, star("a", 1, 1, 0))

	res, err := e.Bright(context.Background(), 10)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if res.Source != SourceStore || len(res.Stars) != 1 {
		t.Errorf("got %d stars from %s, want 1 from store", len(res.Stars), res.Source)
	}
}

func TestReloadSeesRebuiltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("old", 1, 1, 0))
	e := newEngine(t, &Config{StorePath: path})

	res, err := e.Bright(context.Background(), 10)
	if err != nil || len(res.Stars) != 1 || res.Stars[0].SourceID != "old" {
		t.Fatalf("initial query: %v %v", ids(res.Stars), err)
	}

	buildStore(t, path, star("new1", 1, 1, 0), star("new2", 2, 2, 0))

	if err := e.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	res, err = e.Bright(context.Background(), 10)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if got := ids(res.Stars); len(got) != 2 || got[0] != "new1" {
		t.Errorf("after reload got %v, want [new1 new2]", got)
	}
}

func TestReloadFailureKeepsHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("a", 1, 1, 0))
	e := newEngine(t, &Config{StorePath: path})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := e.Reload(); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	res, err := e.Bright(context.Background(), 10)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if res.Source != SourceStore || len(res.Stars) != 1 {
		t.Errorf("got %d stars from %s, want the existing handle", len(res.Stars), res.Source)
	}
}

func TestRecolorCoarse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("a", 1, 1, 3.0))

	coarse := newEngine(t, &Config{StorePath: path})
	stored := newEngine(t, &Config{StorePath: path, Recolor: RecolorStored})

	a, err := stored.Bright(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	b, err := coarse.Bright(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}

	if got := (color.RGB{R: a.Stars[0].R, G: a.Stars[0].G, B: a.Stars[0].B}); got != color.Fine(3.0) {
		t.Errorf("stored color = %+v, want fine %+v", got, color.Fine(3.0))
	}
	if got := (color.RGB{R: b.Stars[0].R, G: b.Stars[0].G, B: b.Stars[0].B}); got != color.Red {
		t.Errorf("coarse color = %+v, want red", got)
	}
}

func TestInvalidRecolor(t *testing.T) {
	_, err := New(&Config{StorePath: "x.db", Recolor: "rainbow"})
	if !errors.Is(err, util.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("a", 1, 1, 0))
	e := newEngine(t, &Config{StorePath: path, Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Bright(ctx, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func writeCorrupt(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, bytes.Repeat([]byte("not sqlite "), 512), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	writeCorrupt(t, path)
	e := newEngine(t, &Config{
		StorePath:        path,
		Fallback:         writeSnapshot(t, snapshot),
		FailureThreshold: 2,
	})

	for i := 0; i < 3; i++ {
		res, err := e.Bright(context.Background(), 10)
		if err != nil || res.Source != SourceFallback {
			t.Fatalf("query %d: source %v err %v", i, res.Source, err)
		}
	}

	stats := e.Stats()
	if stats.BreakerState != "open" {
		t.Errorf("breaker state = %s, want open", stats.BreakerState)
	}
	if stats.Queries != 3 || stats.Fallbacks != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestReloadResetsBreaker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	writeCorrupt(t, path)
	e := newEngine(t, &Config{StorePath: path, Fallback: writeSnapshot(t, snapshot)})

	for i := 0; i < 3; i++ {
		e.Bright(context.Background(), 10)
	}
	if state := e.Stats().BreakerState; state != "open" {
		t.Fatalf("breaker state = %s, want open", state)
	}

	buildStore(t, path, star("a", 1, 1, 0))
	if err := e.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	res, err := e.Bright(context.Background(), 10)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if res.Source != SourceStore || len(res.Stars) != 1 {
		t.Errorf("got %v from %s, want [a] from store", ids(res.Stars), res.Source)
	}
	if state := e.Stats().BreakerState; state != "closed" {
		t.Errorf("breaker state = %s after reload, want closed", state)
	}
}

func TestClosedEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("a", 1, 1, 0))
	e, err := New(&Config{StorePath: path})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := e.Bright(context.Background(), 10); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed, got %v", err)
	}
}

func TestConcurrentQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	var stars []catalog.Star
	for i := 0; i < 200; i++ {
		stars = append(stars, star(string(rune('a'+i%26))+string(rune('0'+i/26)), float64(1+i), float64(i%10), 0.5))
	}
	buildStore(t, path, stars...)
	e := newEngine(t, &Config{StorePath: path, Workers: 3})

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Near(context.Background(), NearParams{MaxDistance: 100, MaxResults: 10, MagnitudeLimit: 5})
			if err != nil {
				errs <- err
				return
			}
			if res.Source != SourceStore || len(res.Stars) != 10 {
				errs <- errors.New("unexpected result")
			}
			if i%8 == 0 {
				if err := e.Reload(); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func magnitudes(stars []catalog.Star) []float64 {
	out := make([]float64, len(stars))
	for i, s := range stars {
		out[i] = s.Magnitude
	}
	return out
}

func TestWatchStoreReloadsOnSwap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	buildStore(t, path, star("old", 1, 1, 0))
	e := newEngine(t, &Config{StorePath: path})

	ctx, cancel := context.WithCancel(context.Background())
	done, err := e.WatchStore(ctx)
	if err != nil {
		t.Fatalf("WatchStore failed: %v", err)
	}
	defer func() {
		cancel()
		<-done
	}()

	buildStore(t, path, star("new", 1, 1, 0))

	deadline := time.Now().Add(5 * time.Second)
	for e.Stats().Reloads == 0 {
		if time.Now().After(deadline) {
			t.Fatal("store was not reloaded after swap")
		}
		time.Sleep(20 * time.Millisecond)
	}

	res, err := e.Bright(context.Background(), 10)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if got := ids(res.Stars); len(got) != 1 || got[0] != "new" {
		t.Errorf("got %v, want [new]", got)
	}
}

func TestWatchStoreBeforeFirstIngest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "catalog.db")
	e := newEngine(t, &Config{StorePath: path, Fallback: writeSnapshot(t, snapshot)})

	ctx, cancel := context.WithCancel(context.Background())
	done, err := e.WatchStore(ctx)
	if err != nil {
		t.Fatalf("WatchStore failed: %v", err)
	}
	defer func() {
		cancel()
		<-done
	}()

	buildStore(t, path, star("first", 1, 1, 0))

	deadline := time.Now().Add(5 * time.Second)
	for e.Stats().Reloads == 0 {
		if time.Now().After(deadline) {
			t.Fatal("store was not picked up after first build")
		}
		time.Sleep(20 * time.Millisecond)
	}

	res, err := e.Bright(context.Background(), 10)
	if err != nil {
		t.Fatalf("Bright failed: %v", err)
	}
	if res.Source != SourceStore || len(res.Stars) != 1 || res.Stars[0].SourceID != "first" {
		t.Errorf("got %v from %s, want [first] from store", ids(res.Stars), res.Source)
	}
}

func TestWatchStoreUnusableDirectory(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, nil, 0644); err != nil {
		t.Fatal(err)
	}
	e := newEngine(t, &Config{StorePath: filepath.Join(parent, "catalog.db")})
	if _, err := e.WatchStore(context.Background()); err == nil {
		t.Error("expected error when the catalog directory cannot be created")
	}
}
