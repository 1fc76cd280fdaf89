package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/franz/starcat/internal/store"
	"github.com/franz/starcat/internal/util"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	Long: `Show the number of stored stars, the magnitude range, the catalog file
size and the provenance recorded by the last ingestion.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	setupLogging()

	dbPath := GetConfigString("db", defaultDBPath)
	st, err := store.OpenReadOnly(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	count, err := st.Count(ctx)
	if err != nil {
		return err
	}
	brightest, faintest, ok, err := st.MagnitudeRange(ctx)
	if err != nil {
		return err
	}
	info, err := st.Info(ctx)
	if err != nil {
		return err
	}

	util.InfoLog("=== Catalog Statistics ===")
	util.InfoLog("Catalog: %s (%s)", dbPath, util.FormatFileSize(dbPath))
	util.InfoLog("Stars: %s", util.FormatCount(count))
	if ok {
		util.InfoLog("Magnitude range: %s .. %s", util.FormatMagnitude(brightest), util.FormatMagnitude(faintest))
	}

	if len(info) > 0 {
		util.InfoLog("")
		util.InfoLog("Provenance:")
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			util.InfoLog("  %s: %s", k, info[k])
		}
	}

	return nil
}
