package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/starcat/internal/report"
	"github.com/franz/starcat/internal/util"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize an ingestion event log",
	Long: `Summarize the JSONL event log written by 'starcat ingest'.

The summary includes fetched, stored and skipped row counts, the most common
skip reasons and any fatal error. Without --event-log the newest log in the
events directory is used.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("event-log", "", "path to event log file (default: newest in events_dir)")
	reportCmd.Flags().Int("top", 10, "number of skip reasons to show")
}

func runReport(cmd *cobra.Command, args []string) error {
	setupLogging()

	path, _ := cmd.Flags().GetString("event-log")
	top, _ := cmd.Flags().GetInt("top")

	if path == "" {
		var err error
		path, err = latestEventLog(GetConfigString("events_dir", "artifacts"))
		if err != nil {
			return err
		}
	}

	summary, err := report.Summarize(path)
	if err != nil {
		return err
	}

	util.InfoLog("=== Ingestion Report ===")
	util.InfoLog("Event log: %s", path)
	if summary.RunID != "" {
		util.InfoLog("Run: %s", summary.RunID)
	}
	if summary.StorePath != "" {
		util.InfoLog("Catalog: %s", summary.StorePath)
	}
	util.InfoLog("  Rows fetched: %s", util.FormatCount(int64(summary.Fetched)))
	util.InfoLog("  Stars stored: %s", util.FormatCount(int64(summary.Stored)))
	if summary.Skipped > 0 {
		util.WarnLog("  Rows skipped: %s", util.FormatCount(int64(summary.Skipped)))
		for i, rc := range summary.SkipReasons {
			if i >= top {
				break
			}
			util.InfoLog("    %6d  %s", rc.Count, rc.Reason)
		}
	}

	if summary.Completed {
		util.SuccessLog("Run completed")
		return nil
	}
	for _, msg := range summary.FatalErrors {
		util.ErrorLog("  %s", msg)
	}
	util.ErrorLog("Run did not complete")
	return nil
}

// latestEventLog returns the newest events-*.jsonl file in dir
func latestEventLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read events directory: %w", err)
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "events-") && strings.HasSuffix(e.Name(), ".jsonl") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) == 0 {
		return "", fmt.Errorf("no event logs in %s: %w", dir, util.ErrNotFound)
	}

	// Names embed a sortable timestamp
	sort.Strings(logs)
	return filepath.Join(dir, logs[len(logs)-1]), nil
}
