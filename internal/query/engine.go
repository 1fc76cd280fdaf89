// Package query answers camera-relative and brightness queries against the
// catalog store, degrading to the fallback snapshot when the store cannot
// serve.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franz/starcat/internal/catalog"
	"github.com/franz/starcat/internal/color"
	"github.com/franz/starcat/internal/fallback"
	"github.com/franz/starcat/internal/store"
	"github.com/franz/starcat/internal/util"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

// ErrEngineClosed is returned by queries issued after Close
var ErrEngineClosed = errors.New("query engine closed")

// Source identifies which backend produced a result
type Source string

const (
	SourceStore    Source = "store"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Recolor modes for store results
const (
	RecolorStored = "stored" // keep the colors written at ingestion
	RecolorCoarse = "coarse" // repaint with the coarse bands on read
)

// Config holds engine configuration
type Config struct {
	StorePath string
	Fallback  *fallback.Loader // may be nil
	Workers   int              // Concurrent scans (default GOMAXPROCS)
	Timeout   time.Duration    // Deadline per scan (default 5s)
	Recolor   string           // RecolorStored or RecolorCoarse

	// Breaker opens after FailureThreshold consecutive store failures and
	// probes the store again after Cooldown
	FailureThreshold uint32
	Cooldown         time.Duration
}

// DefaultConfig returns production defaults for the store at path
func DefaultConfig(storePath string) *Config {
	return &Config{
		StorePath:        storePath,
		Workers:          runtime.GOMAXPROCS(0),
		Timeout:          5 * time.Second,
		Recolor:          RecolorCoarse,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// NearParams describes a camera-relative query
type NearParams struct {
	X, Y, Z        float64 // Camera position, parsecs
	MaxDistance    float64 // Exclusive radius, parsecs
	MaxResults     int
	MagnitudeLimit float64 // Exclusive
}

// Result is an ordered record sequence and where it came from
type Result struct {
	Stars  []catalog.Star `json:"stars"`
	Source Source         `json:"source"`
}

// Stats reports engine counters
type Stats struct {
	Queries      int64
	Fallbacks    int64
	Empty        int64
	Reloads      int64
	BreakerState string
	StoreOpen    bool
}

// Engine serves queries. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	sem     *semaphore.Weighted
	breaker atomic.Pointer[gobreaker.CircuitBreaker[[]catalog.Star]]

	current atomic.Pointer[store.Store]
	openMu  sync.Mutex // serializes opening and swapping handles
	closed  atomic.Bool

	queries   atomic.Int64
	fallbacks atomic.Int64
	empty     atomic.Int64
	reloads   atomic.Int64
}

// New creates an engine. A missing or unreadable store is not an error:
// queries are served from the fallback until the store becomes readable.
func New(cfg *Config) (*Engine, error) {
	c := *DefaultConfig(cfg.StorePath)
	c.Fallback = cfg.Fallback
	if cfg.Workers > 0 {
		c.Workers = cfg.Workers
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.Recolor != "" {
		c.Recolor = cfg.Recolor
	}
	if cfg.FailureThreshold > 0 {
		c.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Cooldown > 0 {
		c.Cooldown = cfg.Cooldown
	}

	if c.Recolor != RecolorStored && c.Recolor != RecolorCoarse {
		return nil, fmt.Errorf("%w: recolor mode %q", util.ErrInvalidConfig, c.Recolor)
	}

	e := &Engine{
		cfg: c,
		sem: semaphore.NewWeighted(int64(c.Workers)),
	}
	e.breaker.Store(newBreaker(c))

	if _, err := e.handle(); err != nil {
		util.WarnLog("Catalog store not available (%v); serving from fallback", err)
	}

	return e, nil
}

// newBreaker guards reads of a store that exists. A missing store never
// reaches it, so it only trips on read errors and corruption.
func newBreaker(c Config) *gobreaker.CircuitBreaker[[]catalog.Star] {
	return gobreaker.NewCircuitBreaker[[]catalog.Star](gobreaker.Settings{
		Name:        "catalog-store",
		MaxRequests: 1,
		Timeout:     c.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			util.WarnLog("Circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// handle returns the open store, opening it on first use
func (e *Engine) handle() (*store.Store, error) {
	if st := e.current.Load(); st != nil {
		return st, nil
	}

	e.openMu.Lock()
	defer e.openMu.Unlock()

	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if st := e.current.Load(); st != nil {
		return st, nil
	}

	st, err := store.OpenReadOnly(e.cfg.StorePath)
	if err != nil {
		return nil, err
	}
	e.current.Store(st)
	e.breaker.Store(newBreaker(e.cfg))
	util.DebugLog("Opened catalog store %s", e.cfg.StorePath)
	return st, nil
}

// Reload opens the store file again and swaps it in, so a catalog replaced
// by ingestion becomes visible. The previous handle is closed once its
// in-flight reads finish. On failure the current handle stays in place.
func (e *Engine) Reload() error {
	e.openMu.Lock()
	defer e.openMu.Unlock()

	if e.closed.Load() {
		return ErrEngineClosed
	}

	st, err := store.OpenReadOnly(e.cfg.StorePath)
	if err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}

	if old := e.current.Swap(st); old != nil {
		go old.Close()
	}
	// Failures of the replaced file say nothing about the new one
	e.breaker.Store(newBreaker(e.cfg))
	e.reloads.Add(1)
	util.InfoLog("Reloaded catalog store %s", e.cfg.StorePath)
	return nil
}

// Close releases the store handle. Queries already running complete first.
func (e *Engine) Close() error {
	e.openMu.Lock()
	defer e.openMu.Unlock()

	if e.closed.Swap(true) {
		return nil
	}
	if st := e.current.Swap(nil); st != nil {
		return st.Close()
	}
	return nil
}

// Stats returns current engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Queries:      e.queries.Load(),
		Fallbacks:    e.fallbacks.Load(),
		Empty:        e.empty.Load(),
		Reloads:      e.reloads.Load(),
		BreakerState: e.breaker.Load().State().String(),
		StoreOpen:    e.current.Load() != nil,
	}
}

// Near returns stars brighter than MagnitudeLimit lying strictly within
// MaxDistance of the camera, ordered by (distance, magnitude) and capped at
// MaxResults. A non-positive cap or a NaN input yields an empty result.
func (e *Engine) Near(ctx context.Context, p NearParams) (*Result, error) {
	if p.MaxResults <= 0 || anyNaN(p.X, p.Y, p.Z, p.MaxDistance, p.MagnitudeLimit) {
		return e.none(), nil
	}

	return e.run(ctx, "near",
		func(ctx context.Context, st *store.Store) ([]catalog.Star, error) {
			return st.Near(ctx, store.NearQuery{
				X: p.X, Y: p.Y, Z: p.Z,
				MaxDistance:    p.MaxDistance,
				MaxResults:     p.MaxResults,
				MagnitudeLimit: p.MagnitudeLimit,
			})
		},
		func(l *fallback.Loader) ([]catalog.Star, error) {
			return l.Near(p.X, p.Y, p.Z, p.MaxDistance, p.MaxResults, p.MagnitudeLimit)
		},
	)
}

// Bright returns every star with magnitude < magLimit, brightest first
func (e *Engine) Bright(ctx context.Context, magLimit float64) (*Result, error) {
	if math.IsNaN(magLimit) {
		return e.none(), nil
	}

	return e.run(ctx, "bright",
		func(ctx context.Context, st *store.Store) ([]catalog.Star, error) {
			return st.Bright(ctx, magLimit)
		},
		func(l *fallback.Loader) ([]catalog.Star, error) {
			return l.Bright(magLimit)
		},
	)
}

type outcome struct {
	result *Result
	err    error
}

// run executes one query on a pooled worker under the scan deadline. Only
// the caller's own cancellation is returned as an error; store failures
// degrade to the fallback and then to an empty result.
func (e *Engine) run(
	ctx context.Context,
	name string,
	primary func(context.Context, *store.Store) ([]catalog.Star, error),
	secondary func(*fallback.Loader) ([]catalog.Star, error),
) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	e.queries.Add(1)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	go func() {
		defer e.sem.Release(1)

		scanCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		done <- e.execute(ctx, scanCtx, name, primary, secondary)
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) execute(
	ctx, scanCtx context.Context,
	name string,
	primary func(context.Context, *store.Store) ([]catalog.Star, error),
	secondary func(*fallback.Loader) ([]catalog.Star, error),
) outcome {
	start := time.Now()

	var stars []catalog.Star
	st, err := e.handle()
	if err == nil {
		stars, err = e.breaker.Load().Execute(func() ([]catalog.Star, error) {
			return e.fromStore(scanCtx, st, primary)
		})
	} else if !errors.Is(err, util.ErrNotFound) {
		// Opening an existing but unreadable file is a store failure
		openErr := err
		_, err = e.breaker.Load().Execute(func() ([]catalog.Star, error) {
			return nil, openErr
		})
	}
	if err == nil {
		util.DebugLog("%s: %d stars from store in %v", name, len(stars), time.Since(start))
		return outcome{result: &Result{Stars: e.recolor(stars), Source: SourceStore}}
	}
	if ctx.Err() != nil {
		return outcome{err: ctx.Err()}
	}

	switch {
	case errors.Is(err, util.ErrNotFound):
		util.DebugLog("%s: catalog store absent, using fallback", name)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		util.DebugLog("%s: store breaker open, using fallback", name)
	default:
		util.WarnLog("%s: catalog store failed (%v), using fallback", name, err)
	}

	if e.cfg.Fallback == nil {
		return outcome{result: e.none()}
	}
	stars, ferr := secondary(e.cfg.Fallback)
	if ferr != nil {
		util.ErrorLog("%s: fallback unavailable: %v", name, ferr)
		return outcome{result: e.none()}
	}

	e.fallbacks.Add(1)
	util.DebugLog("%s: %d stars from fallback in %v", name, len(stars), time.Since(start))
	return outcome{result: &Result{Stars: stars, Source: SourceFallback}}
}

// fromStore runs primary against st. A handle closed by a concurrent Reload
// is retried once against its replacement.
func (e *Engine) fromStore(ctx context.Context, st *store.Store, primary func(context.Context, *store.Store) ([]catalog.Star, error)) ([]catalog.Star, error) {
	stars, err := primary(ctx, st)
	if errors.Is(err, store.ErrClosed) {
		if next := e.current.Load(); next != nil && next != st {
			return primary(ctx, next)
		}
	}
	return stars, err
}

func (e *Engine) recolor(stars []catalog.Star) []catalog.Star {
	if e.cfg.Recolor != RecolorCoarse {
		return stars
	}
	for i := range stars {
		stars[i].Paint(color.Coarse)
	}
	return stars
}

func (e *Engine) none() *Result {
	e.empty.Add(1)
	return &Result{Stars: []catalog.Star{}, Source: SourceNone}
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
