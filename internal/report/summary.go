package report

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// RunSummary condenses one ingestion event log
type RunSummary struct {
	RunID       string
	StorePath   string
	Fetched     int
	Stored      int
	Skipped     int
	Completed   bool
	FatalErrors []string
	SkipReasons []ReasonCount
}

// ReasonCount is a skip reason with its number of occurrences
type ReasonCount struct {
	Reason string
	Count  int
}

// Summarize reads an event log written by EventLogger
func Summarize(path string) (*RunSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	summary := &RunSummary{}
	reasons := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("event log line %d: %w", line, err)
		}

		switch ev.Event {
		case EventRunStart:
			summary.RunID = ev.RunID
			summary.StorePath = ev.Path
		case EventFetch:
			if ev.Error == "" {
				summary.Fetched = ev.Count
			}
		case EventSkip:
			summary.Skipped++
			reasons[reasonClass(ev.Reason)]++
		case EventRunEnd:
			summary.Stored = ev.Count
			summary.Completed = true
		}

		if ev.Level == LevelError && ev.Error != "" {
			summary.FatalErrors = append(summary.FatalErrors, ev.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	for reason, n := range reasons {
		summary.SkipReasons = append(summary.SkipReasons, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(summary.SkipReasons, func(i, j int) bool {
		a, b := summary.SkipReasons[i], summary.SkipReasons[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})

	return summary, nil
}

// reasonClass drops the row-specific tail of a reason ("malformed row:
// column ra: ..." -> "malformed row: column ra")
func reasonClass(reason string) string {
	parts := strings.SplitN(reason, ": ", 3)
	if len(parts) == 3 {
		return parts[0] + ": " + parts[1]
	}
	return reason
}
