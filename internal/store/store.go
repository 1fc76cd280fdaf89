package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/franz/starcat/internal/util"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	currentSchemaVersion = 2
)

// ErrClosed is returned by reads issued after Close
var ErrClosed = errors.New("store closed")

// Store is one catalog file. A Store opened read-only is safe for any number
// of concurrent readers.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool

	// mu is held shared by reads and exclusively by Close, so Close waits
	// for reads already in progress
	mu     sync.RWMutex
	closed bool
}

// OpenOptions holds options for opening a database
type OpenOptions struct {
	ReadOnly bool // Open an existing catalog for queries only
	MaxConns int  // Connection pool size for read-only handles (default 4)
}

// Open opens or creates a writable catalog at path with default options
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, nil)
}

// OpenReadOnly opens an existing catalog for queries.
// A missing file yields util.ErrNotFound; a file that is not a catalog
// yields util.ErrCorrupt.
func OpenReadOnly(path string) (*Store, error) {
	return OpenWithOptions(path, &OpenOptions{ReadOnly: true})
}

// OpenWithOptions opens a catalog database with custom options
func OpenWithOptions(path string, opts *OpenOptions) (*Store, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}

	var dsn string
	if opts.ReadOnly {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("catalog %s: %w", path, util.ErrNotFound)
			}
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("catalog %s is a directory: %w", path, util.ErrCorrupt)
		}
		dsn = fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)", path)
	} else {
		// Rollback journal keeps a finished catalog in a single file, so it
		// can be renamed into place without a sidecar -wal.
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(DELETE)&_pragma=synchronous(NORMAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.ReadOnly {
		conns := opts.MaxConns
		if conns <= 0 {
			conns = 4
		}
		db.SetMaxOpenConns(conns)
		db.SetMaxIdleConns(conns)
	} else {
		db.SetMaxOpenConns(1) // SQLite works best with a single writer
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(0)

	store := &Store{db: db, path: path, readOnly: opts.ReadOnly}

	if opts.ReadOnly {
		if err := store.verifySchema(); err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection after in-flight reads finish.
// Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the file the store was opened from
func (s *Store) Path() string {
	return s.path
}

// acquire takes a read slot; release with s.mu.RUnlock
func (s *Store) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// SQLiteVersion returns the SQLite version string
func SQLiteVersion() string {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	err = db.QueryRow("SELECT sqlite_version()").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	var result string
	err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s: %w", result, util.ErrCorrupt)
	}

	return nil
}

// verifySchema checks that a read-only file carries the star table
func (s *Store) verifySchema() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return fmt.Errorf("catalog %s unreadable: %v: %w", s.path, err, util.ErrCorrupt)
	}
	if version < 1 {
		return fmt.Errorf("catalog %s has no star table: %w", s.path, util.ErrCorrupt)
	}
	return nil
}

// migrate applies database migrations
func (s *Store) migrate() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := s.setSchemaVersion(tx, 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	if version < 2 {
		if _, err := tx.Exec(schemaV2); err != nil {
			return fmt.Errorf("failed to apply schema v2: %w", err)
		}
		if err := s.setSchemaVersion(tx, 2); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists == 0 {
		// Catalogs written before versioning carry only the stars table
		var stars int
		err = s.db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name='stars'
		`).Scan(&stars)
		if err != nil {
			return 0, err
		}
		if stars == 1 && s.readOnly {
			return 1, nil
		}
		return 0, nil
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion records a schema version in a transaction
func (s *Store) setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// Transaction executes a function within a transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	if s.readOnly {
		return fmt.Errorf("transaction on read-only catalog %s", s.path)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
