package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/starcat/internal/archive"
	"github.com/franz/starcat/internal/fallback"
	"github.com/franz/starcat/internal/store"
	"github.com/franz/starcat/internal/util"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the catalog and configuration",
	Long: `Run diagnostic checks to ensure starcat can ingest and serve queries.

This command checks:
- SQLite version
- Catalog presence, integrity and size
- Catalog directory on a network filesystem
- Fallback snapshot presence and readability
- Archive URL configuration
- Event log directory permissions
- Stale ingestion lock files`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	setupLogging()

	util.InfoLog("=== starcat doctor ===")
	util.InfoLog("")

	dbPath := GetConfigString("db", defaultDBPath)
	snapshotPath := GetConfigString("snapshot", defaultSnapshotPath)

	results := []checkResult{
		checkSQLite(),
		checkCatalog(dbPath),
		checkCatalogFilesystem(dbPath),
		checkSnapshot(snapshotPath),
		checkArchiveURL(GetConfigString("archive.url", archive.DefaultBaseURL)),
		checkEventsDir(GetConfigString("events_dir", "artifacts")),
		checkLock(dbPath),
	}

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed.")
	}

	return nil
}

// checkSQLite reports the embedded SQLite version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkCatalog opens the catalog read-only and verifies its integrity.
// A missing catalog is a warning: queries are served from the snapshot.
func checkCatalog(dbPath string) checkResult {
	st, err := store.OpenReadOnly(dbPath)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return checkResult{
				name:    "Catalog",
				warning: true,
				message: fmt.Sprintf("%s not found (run 'starcat ingest'; queries use the fallback snapshot)", dbPath),
			}
		}
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer st.Close()

	if err := st.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := st.Count(ctx)
	if err != nil {
		return checkResult{
			name:    "Catalog",
			error:   true,
			message: fmt.Sprintf("cannot count stars: %v", err),
		}
	}
	if count == 0 {
		return checkResult{
			name:    "Catalog",
			warning: true,
			message: fmt.Sprintf("%s is empty", dbPath),
		}
	}

	return checkResult{
		name:    "Catalog",
		message: fmt.Sprintf("%s (%s, %s stars)", dbPath, util.FormatFileSize(dbPath), util.FormatCount(count)),
	}
}

// checkCatalogFilesystem warns when the catalog directory is network-mounted,
// where SQLite locking and the ingestion lock file are unreliable
func checkCatalogFilesystem(dbPath string) checkResult {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); err != nil {
		return checkResult{
			name:    "Catalog filesystem",
			message: fmt.Sprintf("%s does not exist yet", dir),
		}
	}

	info, err := util.DetectMount(dir)
	if err != nil {
		return checkResult{
			name:    "Catalog filesystem",
			warning: true,
			message: fmt.Sprintf("cannot determine filesystem: %v", err),
		}
	}
	if info.Shared {
		return checkResult{
			name:    "Catalog filesystem",
			warning: true,
			message: fmt.Sprintf("%s is on %s (%s); keep the catalog on local disk", dir, info.FSType, info.MountPoint),
		}
	}

	fsType := info.FSType
	if fsType == "" {
		fsType = "local"
	}
	return checkResult{
		name:    "Catalog filesystem",
		message: fsType,
	}
}

// checkSnapshot parses the fallback snapshot
func checkSnapshot(path string) checkResult {
	stars, err := fallback.NewLoader(path).All()
	if err != nil {
		if errors.Is(err, fallback.ErrSnapshotMissing) {
			return checkResult{
				name:    "Fallback snapshot",
				warning: true,
				message: fmt.Sprintf("%s not found (queries return nothing while the catalog is unavailable)", path),
			}
		}
		return checkResult{
			name:    "Fallback snapshot",
			error:   true,
			message: err.Error(),
		}
	}

	return checkResult{
		name:    "Fallback snapshot",
		message: fmt.Sprintf("%s (%d stars)", path, len(stars)),
	}
}

// checkArchiveURL validates the configured TAP endpoint without contacting it
func checkArchiveURL(raw string) checkResult {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return checkResult{
			name:    "Archive URL",
			error:   true,
			message: fmt.Sprintf("%q is not an http(s) URL", raw),
		}
	}
	if u.Scheme == "http" {
		return checkResult{
			name:    "Archive URL",
			warning: true,
			message: fmt.Sprintf("%s (not using TLS)", raw),
		}
	}

	return checkResult{
		name:    "Archive URL",
		message: raw,
	}
}

// checkEventsDir verifies the event log directory is writable
func checkEventsDir(path string) checkResult {
	if err := os.MkdirAll(path, 0755); err != nil {
		return checkResult{
			name:    "Event log directory",
			warning: true,
			message: fmt.Sprintf("cannot create %s: %v", path, err),
		}
	}

	testFile := filepath.Join(path, ".starcat_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    "Event log directory",
			warning: true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    "Event log directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkLock reports a lock file left behind by an ingestion
func checkLock(dbPath string) checkResult {
	lockPath := dbPath + ".lock"
	info, err := os.Stat(lockPath)
	if err != nil {
		return checkResult{
			name:    "Ingestion lock",
			message: "none",
		}
	}

	return checkResult{
		name:    "Ingestion lock",
		warning: true,
		message: fmt.Sprintf("%s held since %s (remove it if no ingestion is running)",
			lockPath, info.ModTime().Format(time.RFC3339)),
	}
}
