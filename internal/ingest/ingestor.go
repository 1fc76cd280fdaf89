// Package ingest rebuilds the local star catalog from the remote archive.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/franz/starcat/internal/catalog"
	"github.com/franz/starcat/internal/report"
	"github.com/franz/starcat/internal/store"
	"github.com/franz/starcat/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/iter"
)

var (
	// ErrIngestInProgress is returned when another run holds the store lock
	ErrIngestInProgress = store.ErrBuildInProgress

	// ErrNoRecords is returned when nothing survived transformation; the
	// existing store is kept rather than replaced by an empty one
	ErrNoRecords = errors.New("no valid records to store")

	// ErrDuplicateID marks a row whose identifier was already seen in the batch
	ErrDuplicateID = errors.New("duplicate source_id")
)

// Fetcher retrieves raw archive rows for stars brighter than magLimit
type Fetcher interface {
	Fetch(ctx context.Context, magLimit float64) ([]map[string]string, error)
}

// Config holds ingestor configuration
type Config struct {
	Fetcher      Fetcher
	StorePath    string
	Workers      int // Parallel row transforms (default GOMAXPROCS)
	BatchSize    int // Rows per insert batch (default 500)
	Logger       *report.EventLogger
	Metrics      *Metrics // may be nil
	ShowProgress bool
}

// Failure phases reported to Metrics
const (
	PhaseLock      = "lock"
	PhaseFetch     = "fetch"
	PhaseTransform = "transform"
	PhasePersist   = "persist"
)

// Ingestor runs fetch -> transform -> persist
type Ingestor struct {
	fetcher      Fetcher
	storePath    string
	workers      int
	batchSize    int
	logger       *report.EventLogger
	metrics      *Metrics
	showProgress bool
}

// Result represents an ingestion run
type Result struct {
	Fetched   int
	Stored    int
	Skipped   int
	Duration  time.Duration
	StorePath string
}

// New creates a new Ingestor
func New(cfg *Config) *Ingestor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	return &Ingestor{
		fetcher:      cfg.Fetcher,
		storePath:    cfg.StorePath,
		workers:      workers,
		batchSize:    batchSize,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		showProgress: cfg.ShowProgress,
	}
}

// Run performs one ingestion. Any error leaves the existing store as it was.
func (in *Ingestor) Run(ctx context.Context, magLimit float64) (result *Result, err error) {
	start := time.Now()
	phase := ""
	defer func() {
		in.metrics.observe(result, phase, start)
	}()

	lock, err := store.AcquireLock(in.storePath)
	if err != nil {
		phase = PhaseLock
		return nil, err
	}
	defer lock.Release()

	in.logger.LogRunStart(in.storePath, magLimit)

	rows, err := in.fetcher.Fetch(ctx, magLimit)
	if err != nil {
		phase = PhaseFetch
		err = fmt.Errorf("fetch failed: %w", err)
		in.logger.LogError(report.EventFetch, err)
		return nil, err
	}
	in.logger.LogFetch(len(rows), time.Since(start))

	stars, skipped := in.Transform(rows)
	result = &Result{
		Fetched:   len(rows),
		Skipped:   skipped,
		StorePath: in.storePath,
	}

	if len(stars) == 0 {
		phase = PhaseTransform
		err := fmt.Errorf("%w: %d rows fetched, %d skipped", ErrNoRecords, len(rows), skipped)
		in.logger.LogError(report.EventPersist, err)
		return result, err
	}

	info := map[string]string{
		"mag_limit":    strconv.FormatFloat(magLimit, 'f', -1, 64),
		"rows_fetched": strconv.Itoa(len(rows)),
		"rows_skipped": strconv.Itoa(skipped),
	}
	if in.logger.RunID() != "" {
		info["run_id"] = in.logger.RunID()
	}
	if err := in.Persist(ctx, stars, info); err != nil {
		phase = PhasePersist
		return result, err
	}

	result.Stored = len(stars)
	result.Duration = time.Since(start)
	in.logger.LogRunEnd(result.Fetched, result.Stored, result.Skipped, result.Duration)

	return result, nil
}

type transformed struct {
	star catalog.Star
	err  error
}

// Transform derives stars from raw rows in parallel, preserving row order.
// Rows that fail to parse and repeated identifiers are skipped and logged.
func (in *Ingestor) Transform(rows []map[string]string) ([]catalog.Star, int) {
	mapper := iter.Mapper[map[string]string, transformed]{MaxGoroutines: in.workers}
	results := mapper.Map(rows, func(row *map[string]string) transformed {
		s, err := catalog.Transform(catalog.RawRow(*row))
		return transformed{star: s, err: err}
	})

	stars := make([]catalog.Star, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	skipped := 0

	for i, r := range results {
		rowNum := i + 1
		err := r.err
		if err == nil {
			if _, dup := seen[r.star.SourceID]; dup {
				err = fmt.Errorf("%w: %s", ErrDuplicateID, r.star.SourceID)
			}
		}

		if err != nil {
			skipped++
			id := catalog.RawRow(rows[i]).ID()
			util.DebugLog("Skipping row %d (%s): %v", rowNum, id, err)
			in.logger.LogSkip(rowNum, id, err)
			continue
		}

		seen[r.star.SourceID] = struct{}{}
		stars = append(stars, r.star)
	}

	if skipped > 0 {
		util.WarnLog("Skipped %s of %s rows", util.FormatCount(int64(skipped)), util.FormatCount(int64(len(rows))))
	}

	return stars, skipped
}

// Persist writes stars into a fresh store and swaps it over the old one
func (in *Ingestor) Persist(ctx context.Context, stars []catalog.Star, info map[string]string) error {
	start := time.Now()

	var bar *progressbar.ProgressBar
	if in.showProgress {
		bar = progressbar.NewOptions(len(stars),
			progressbar.OptionSetDescription("Writing catalog"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("stars"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	err := store.Build(ctx, in.storePath, stars, &store.BuildOptions{
		BatchSize: in.batchSize,
		Info:      info,
		Progress: func(n int) {
			if bar != nil {
				bar.Set(n)
			}
		},
	})
	if bar != nil {
		bar.Finish()
	}

	in.logger.LogPersist(in.storePath, len(stars), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("persist failed: %w", err)
	}

	util.SuccessLog("Catalog written: %s stars -> %s (%s)",
		util.FormatCount(int64(len(stars))), in.storePath, util.FormatFileSize(in.storePath))
	return nil
}
