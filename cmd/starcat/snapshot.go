package main

import (
	"context"
	"fmt"

	"github.com/franz/starcat/internal/fallback"
	"github.com/franz/starcat/internal/store"
	"github.com/franz/starcat/internal/util"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export the brightest catalog stars as a fallback snapshot",
	Long: `Write every catalog star brighter than --mag-limit to a JSON snapshot
that queries fall back to when the catalog is unavailable.

The snapshot is written to a temporary file and renamed into place. Output
paths ending in .gz are gzip-compressed; the loader reads them transparently.`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().Float64("mag-limit", 6.5, "faintest magnitude to export (exclusive)")
	snapshotCmd.Flags().String("out", "", "output file (default: --snapshot)")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	setupLogging()

	dbPath := GetConfigString("db", defaultDBPath)
	magLimit, _ := cmd.Flags().GetFloat64("mag-limit")
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = GetConfigString("snapshot", defaultSnapshotPath)
	}

	st, err := store.OpenReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer st.Close()

	stars, err := st.Bright(context.Background(), magLimit)
	if err != nil {
		return err
	}

	if err := fallback.WriteFile(out, stars); err != nil {
		return err
	}

	util.SuccessLog("Wrote %s stars (G < %s) to %s (%s)",
		util.FormatCount(int64(len(stars))), util.FormatMagnitude(magLimit), out, util.FormatFileSize(out))
	return nil
}
