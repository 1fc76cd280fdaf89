package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/franz/starcat/internal/catalog"
	"github.com/franz/starcat/internal/util"
)

// ErrBuildInProgress is returned when another build holds the catalog lock
var ErrBuildInProgress = errors.New("catalog build already in progress")

// BuildOptions controls a catalog build
type BuildOptions struct {
	BatchSize int               // Rows per progress step (default 500)
	Info      map[string]string // Provenance stored in catalog_info
	Progress  func(inserted int)
}

// Catalog info keys written by Build
const (
	InfoBuiltAt   = "built_at"
	InfoStarCount = "star_count"
)

// Build writes stars into a fresh catalog next to path and atomically
// renames it over path.
//
// The new file is populated in a single transaction, integrity-checked and
// closed before the rename, so readers observe either the previous catalog
// or the complete new one. On any failure the staging file is removed and
// path is left untouched.
func Build(ctx context.Context, path string, stars []catalog.Star, opts *BuildOptions) (err error) {
	if opts == nil {
		opts = &BuildOptions{}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	staging := fmt.Sprintf("%s.staging-%d", path, time.Now().UnixNano())
	defer func() {
		if err != nil {
			util.RetryableRemove(staging, nil)
			util.RetryableRemove(staging+"-journal", nil)
		}
	}()

	st, err := Open(staging)
	if err != nil {
		return fmt.Errorf("failed to create staging catalog: %w", err)
	}

	err = st.Transaction(func(tx *sql.Tx) error {
		for start := 0; start < len(stars); start += batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+batchSize, len(stars))
			if err := InsertStars(tx, stars[start:end]); err != nil {
				return err
			}
			if opts.Progress != nil {
				opts.Progress(end)
			}
		}
		return writeInfo(tx, len(stars), opts.Info)
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to populate staging catalog: %w", err)
	}

	if err := st.CheckIntegrity(); err != nil {
		st.Close()
		return err
	}

	n, err := st.Count(ctx)
	if err != nil {
		st.Close()
		return err
	}
	if n != int64(len(stars)) {
		st.Close()
		return fmt.Errorf("staging catalog holds %d stars, expected %d: %w", n, len(stars), util.ErrCorrupt)
	}

	if err := st.Close(); err != nil {
		return fmt.Errorf("failed to close staging catalog: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// A sidecar from a WAL-mode catalog at path would be replayed against the
	// new file
	for _, sidecar := range []string{path + "-wal", path + "-shm"} {
		if err := util.RetryableRemove(sidecar, nil); err != nil {
			return fmt.Errorf("failed to remove stale %s: %w", sidecar, err)
		}
	}

	if err := util.RetryableRename(staging, path, nil); err != nil {
		return fmt.Errorf("failed to swap catalog into place: %w", err)
	}

	return nil
}

func writeInfo(tx *sql.Tx, count int, info map[string]string) error {
	entries := map[string]string{
		InfoBuiltAt:   time.Now().UTC().Format(time.RFC3339),
		InfoStarCount: strconv.Itoa(count),
	}
	for k, v := range info {
		entries[k] = v
	}

	for k, v := range entries {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO catalog_info (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to write catalog info %s: %w", k, err)
		}
	}
	return nil
}

// Info returns the provenance recorded by Build. Catalogs without the table
// return an empty map.
func (s *Store) Info(ctx context.Context) (map[string]string, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	info := make(map[string]string)

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='catalog_info'
	`).Scan(&exists)
	if err != nil || exists == 0 {
		return info, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM catalog_info")
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		info[k] = v
	}
	return info, rows.Err()
}

// Lock is an exclusive build lock on a catalog path
type Lock struct {
	path string
}

// AcquireLock creates <path>.lock exclusively. A second builder for the
// same path gets ErrBuildInProgress until the first releases it.
func AcquireLock(path string) (*Lock, error) {
	lockPath := path + ".lock"
	if dir := filepath.Dir(lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: %w", lockPath, ErrBuildInProgress)
		}
		return nil, fmt.Errorf("failed to create lock %s: %w", lockPath, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	return &Lock{path: lockPath}, nil
}

// Release removes the lock file
func (l *Lock) Release() error {
	return util.RetryableRemove(l.path, nil)
}
