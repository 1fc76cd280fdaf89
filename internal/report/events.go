// Package report records ingestion runs as JSONL event logs and summarizes
// them afterwards.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventRunStart EventType = "run_start"
	EventFetch    EventType = "fetch"
	EventSkip     EventType = "skip"
	EventPersist  EventType = "persist"
	EventRunEnd   EventType = "run_end"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in an ingestion run
type Event struct {
	Timestamp time.Time         `json:"ts"`
	RunID     string            `json:"run_id,omitempty"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	SourceID  string            `json:"source_id,omitempty"`
	Row       int               `json:"row,omitempty"`
	Count     int               `json:"count,omitempty"`
	Path      string            `json:"path,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	runID := uuid.NewString()
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s-%s.jsonl", timestamp, runID[:8])
	path := filepath.Join(outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    runID,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = l.runID
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogRunStart records the parameters of an ingestion run
func (l *EventLogger) LogRunStart(storePath string, magLimit float64) error {
	return l.Log(&Event{
		Level: LevelInfo,
		Event: EventRunStart,
		Path:  storePath,
		Extra: map[string]string{
			"mag_limit": strconv.FormatFloat(magLimit, 'f', -1, 64),
		},
	})
}

// LogFetch records how many rows the archive returned
func (l *EventLogger) LogFetch(rows int, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventFetch,
		Count:    rows,
		Duration: duration.Milliseconds(),
	})
}

// LogSkip records a row rejected during transformation
func (l *EventLogger) LogSkip(row int, sourceID string, reason error) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventSkip,
		Row:      row,
		SourceID: sourceID,
		Reason:   reason.Error(),
	})
}

// LogPersist records the outcome of writing and swapping the store
func (l *EventLogger) LogPersist(storePath string, stored int, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventPersist,
		Path:     storePath,
		Count:    stored,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogRunEnd records the final counters of a successful run
func (l *EventLogger) LogRunEnd(fetched, stored, skipped int, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventRunEnd,
		Count:    stored,
		Duration: duration.Milliseconds(),
		Extra: map[string]string{
			"fetched": strconv.Itoa(fetched),
			"skipped": strconv.Itoa(skipped),
		},
	})
}

// LogError records a fatal error for the run
func (l *EventLogger) LogError(event EventType, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the identifier stamped on every event of this log
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
