package report

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("Failed to decode JSONL line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestNewEventLogger(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewEventLogger(filepath.Join(tmpDir, "artifacts"), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logger.Path()); os.IsNotExist(err) {
		t.Errorf("Event log file was not created at %s", logger.Path())
	}

	filename := filepath.Base(logger.Path())
	if len(filename) < len("events-20060102-150405.jsonl") {
		t.Errorf("Event log filename format incorrect: %s", filename)
	}
}

func TestEventLoggerRun(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelInfo)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogRunStart("data/catalog.db", 7)
	logger.LogFetch(3, 1500*time.Millisecond)
	logger.LogSkip(2, "42", errors.New("missing magnitude"))
	logger.LogPersist("data/catalog.db", 2, time.Second, nil)
	logger.LogRunEnd(3, 2, 1, 3*time.Second)
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}

	if events[0].Event != EventRunStart || events[0].Extra["mag_limit"] != "7" {
		t.Errorf("unexpected run start %+v", events[0])
	}
	if events[1].Count != 3 || events[1].Duration != 1500 {
		t.Errorf("unexpected fetch %+v", events[1])
	}
	skip := events[2]
	if skip.Event != EventSkip || skip.Level != LevelWarning || skip.Row != 2 || skip.SourceID != "42" || skip.Reason != "missing magnitude" {
		t.Errorf("unexpected skip %+v", skip)
	}
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			t.Errorf("event %s missing timestamp", ev.Event)
		}
		if ev.RunID == "" || ev.RunID != logger.RunID() {
			t.Errorf("event %s run id = %q, want %q", ev.Event, ev.RunID, logger.RunID())
		}
	}
}

func TestEventLoggerLevelFilter(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelError)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogFetch(10, time.Second)
	logger.LogSkip(1, "x", errors.New("bad"))
	logger.LogPersist("p", 0, 0, errors.New("disk full"))
	logger.Close()

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("expected only the error event, got %d", len(events))
	}
	if events[0].Level != LevelError || events[0].Error != "disk full" {
		t.Errorf("unexpected event %+v", events[0])
	}
}

func TestNullLogger(t *testing.T) {
	logger := NullLogger()

	if err := logger.LogSkip(1, "x", errors.New("bad")); err != nil {
		t.Errorf("null logger should ignore events, got %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("null logger Close returned %v", err)
	}
	if logger.Path() != "" {
		t.Errorf("null logger should have no path")
	}
}

func TestEventLoggerConcurrent(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.LogSkip(i+1, "id", errors.New("malformed row"))
		}(i)
	}
	wg.Wait()
	logger.Close()

	if got := len(readEvents(t, logger.Path())); got != 50 {
		t.Errorf("expected 50 events, got %d", got)
	}
}

func TestSummarize(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogRunStart("cat.db", 6.5)
	logger.LogFetch(10, time.Second)
	logger.LogSkip(1, "a", errors.New("missing magnitude"))
	logger.LogSkip(4, "b", errors.New(`malformed row: column ra: "x"`))
	logger.LogSkip(7, "c", errors.New(`malformed row: column ra: "y"`))
	logger.LogPersist("cat.db", 7, time.Second, nil)
	logger.LogRunEnd(10, 7, 3, 2*time.Second)
	logger.Close()

	summary, err := Summarize(logger.Path())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if summary.RunID != logger.RunID() {
		t.Errorf("run id = %q, want %q", summary.RunID, logger.RunID())
	}
	if summary.StorePath != "cat.db" || summary.Fetched != 10 || summary.Stored != 7 || summary.Skipped != 3 {
		t.Errorf("unexpected counters %+v", summary)
	}
	if !summary.Completed || len(summary.FatalErrors) != 0 {
		t.Errorf("expected a clean completed run, got %+v", summary)
	}
	if len(summary.SkipReasons) != 2 {
		t.Fatalf("expected 2 reason classes, got %v", summary.SkipReasons)
	}
	if summary.SkipReasons[0] != (ReasonCount{Reason: "malformed row: column ra", Count: 2}) {
		t.Errorf("unexpected top reason %+v", summary.SkipReasons[0])
	}
}

func TestSummarizeFailedRun(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelDebug)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}
	logger.LogRunStart("cat.db", 7)
	logger.LogError(EventFetch, errors.New("archive job failed"))
	logger.Close()

	summary, err := Summarize(logger.Path())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Completed {
		t.Error("run without run_end should not be completed")
	}
	if len(summary.FatalErrors) != 1 || summary.FatalErrors[0] != "archive job failed" {
		t.Errorf("unexpected fatal errors %v", summary.FatalErrors)
	}
}
