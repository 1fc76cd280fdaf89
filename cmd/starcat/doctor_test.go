package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/starcat/internal/catalog"
	"github.com/franz/starcat/internal/fallback"
	"github.com/franz/starcat/internal/query"
	"github.com/franz/starcat/internal/store"
	"github.com/goccy/go-json"
)

func TestCheckSQLite(t *testing.T) {
	result := checkSQLite()

	if result.error {
		t.Errorf("SQLite check failed: %s", result.message)
	}

	if result.message == "" {
		t.Error("expected version information in message")
	}
}

func TestCheckCatalog_Missing(t *testing.T) {
	result := checkCatalog(filepath.Join(t.TempDir(), "missing.db"))

	if result.error {
		t.Errorf("missing catalog should warn, not error: %s", result.message)
	}
	if !result.warning {
		t.Error("expected warning for missing catalog")
	}
}

func TestCheckCatalog_Existing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s := catalog.Star{SourceID: "1", Magnitude: 2}
	s.Place(10)
	if err := store.Build(context.Background(), dbPath, []catalog.Star{s}, nil); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	result := checkCatalog(dbPath)
	if result.error || result.warning {
		t.Errorf("existing catalog check failed: %s", result.message)
	}
	if !strings.Contains(result.message, "1 stars") {
		t.Errorf("expected star count in message, got %q", result.message)
	}
}

func TestCheckCatalog_Corrupt(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	if err := os.WriteFile(dbPath, bytes.Repeat([]byte("not sqlite "), 512), 0644); err != nil {
		t.Fatal(err)
	}

	if result := checkCatalog(dbPath); !result.error {
		t.Errorf("expected error for corrupt catalog, got %+v", result)
	}
}

func TestCheckSnapshot(t *testing.T) {
	dir := t.TempDir()

	if result := checkSnapshot(filepath.Join(dir, "missing.json")); !result.warning || result.error {
		t.Errorf("missing snapshot: %+v", result)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{"), 0644)
	if result := checkSnapshot(bad); !result.error {
		t.Errorf("malformed snapshot: %+v", result)
	}

	good := filepath.Join(dir, "good.json")
	os.WriteFile(good, []byte(`[{"magnitude": 1}, {"magnitude": 2}]`), 0644)
	result := checkSnapshot(good)
	if result.error || result.warning || !strings.Contains(result.message, "2 stars") {
		t.Errorf("valid snapshot: %+v", result)
	}
}

func TestCheckArchiveURL(t *testing.T) {
	tests := []struct {
		url     string
		error   bool
		warning bool
	}{
		{"https://gea.esac.esa.int/tap-server/tap", false, false},
		{"http://localhost:8080/tap", false, true},
		{"gea.esac.esa.int", true, false},
		{"ftp://example.org/tap", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			result := checkArchiveURL(tt.url)
			if result.error != tt.error || result.warning != tt.warning {
				t.Errorf("got error=%v warning=%v, want %v/%v", result.error, result.warning, tt.error, tt.warning)
			}
		})
	}
}

func TestCheckLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")

	if result := checkLock(dbPath); result.warning {
		t.Errorf("expected no lock, got %+v", result)
	}

	lock, err := store.AcquireLock(dbPath)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	if result := checkLock(dbPath); !result.warning {
		t.Errorf("expected lock warning, got %+v", result)
	}
}

func TestLatestEventLog(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"events-20250101-120000-9f86d081.jsonl", "events-20250301-090000-2c26b46b.jsonl", "notes.txt"} {
		os.WriteFile(filepath.Join(dir, name), nil, 0644)
	}

	got, err := latestEventLog(dir)
	if err != nil {
		t.Fatalf("latestEventLog failed: %v", err)
	}
	if filepath.Base(got) != "events-20250301-090000-2c26b46b.jsonl" {
		t.Errorf("got %s", got)
	}

	if _, err := latestEventLog(t.TempDir()); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestWriteResult(t *testing.T) {
	s := catalog.Star{SourceID: "42", Magnitude: 1.5, Parallax: catalog.Float(10)}
	s.Place(100)

	var buf bytes.Buffer
	if err := writeResult(&buf, &query.Result{Stars: []catalog.Star{s}, Source: query.SourceStore}, true); err != nil {
		t.Fatalf("writeResult failed: %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(out) != 1 || out[0]["source_id"] != "42" || out[0]["distance_pc"] != 100.0 {
		t.Errorf("unexpected output: %v", out)
	}
	if _, ok := out[0]["temperature"]; !ok {
		t.Error("expected temperature key (null) in output")
	}

	buf.Reset()
	if err := writeResult(&buf, &query.Result{Stars: []catalog.Star{}, Source: query.SourceNone}, true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty result = %q, want []", buf.String())
	}
}

func TestCheckSnapshotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "bright.json.gz")
	s := catalog.Star{SourceID: "7", Magnitude: 0.5}
	s.Place(8)

	if err := fallback.WriteFile(path, []catalog.Star{s}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	result := checkSnapshot(path)
	if result.error || !strings.Contains(result.message, "1 stars") {
		t.Errorf("written snapshot unreadable: %+v", result)
	}
}

func TestCheckCatalogFilesystem(t *testing.T) {
	result := checkCatalogFilesystem(filepath.Join(t.TempDir(), "catalog.db"))
	if result.error {
		t.Errorf("filesystem check errored: %s", result.message)
	}

	result = checkCatalogFilesystem(filepath.Join(t.TempDir(), "missing", "catalog.db"))
	if result.error || result.warning {
		t.Errorf("missing directory: %+v", result)
	}
}
