package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/franz/starcat/internal/archive"
	"github.com/franz/starcat/internal/ingest"
	"github.com/franz/starcat/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the local catalog from the Gaia archive",
	Long: `Fetch every source brighter than the magnitude limit from the Gaia
archive and rebuild the local catalog.

The run has three phases:
1. Fetch: submit an asynchronous ADQL job, poll until it completes, download
   the full result set
2. Transform: derive distance, Cartesian position and display color for each
   row; malformed rows are skipped and logged
3. Persist: write a fresh catalog next to the old one and atomically rename
   it into place

Any failure leaves the existing catalog untouched. Only one ingestion may run
against a catalog at a time.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Float64("mag-limit", 7.0, "faintest G magnitude to fetch (exclusive)")
	ingestCmd.Flags().Int("workers", 0, "parallel row transforms (default: number of CPUs)")
	ingestCmd.Flags().Int("batch-size", 500, "rows per insert batch")
	ingestCmd.Flags().String("archive-url", archive.DefaultBaseURL, "TAP service base URL")
	ingestCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile after the run")

	viper.BindPFlag("ingest.mag_limit", ingestCmd.Flags().Lookup("mag-limit"))
	viper.BindPFlag("ingest.workers", ingestCmd.Flags().Lookup("workers"))
	viper.BindPFlag("ingest.batch_size", ingestCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("archive.url", ingestCmd.Flags().Lookup("archive-url"))
	viper.BindPFlag("ingest.metrics_file", ingestCmd.Flags().Lookup("metrics-file"))
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	setupLogging()

	dbPath := GetConfigString("db", defaultDBPath)
	magLimit := GetConfigFloat("ingest.mag_limit", 7.0)

	logger := newEventLogger()
	defer logger.Close()

	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}

	client := archive.NewClient(&archive.Config{
		BaseURL:      GetConfigString("archive.url", archive.DefaultBaseURL),
		Table:        GetConfigString("archive.table", archive.DefaultTable),
		PollInterval: GetConfigDuration("archive.poll_interval", 2*time.Second),
		Timeout:      GetConfigDuration("archive.timeout", 30*time.Minute),
	})

	metrics := ingest.NewMetrics()
	if metricsFile := viper.GetString("ingest.metrics_file"); metricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(metricsFile); err != nil {
				util.WarnLog("%v", err)
			}
		}()
	}

	ingestor := ingest.New(&ingest.Config{
		Fetcher:      client,
		StorePath:    dbPath,
		Workers:      viper.GetInt("ingest.workers"),
		BatchSize:    GetConfigInt("ingest.batch_size", 500),
		Logger:       logger,
		Metrics:      metrics,
		ShowProgress: util.ShowProgress() && !util.IsQuiet(),
	})

	if util.IsSharedFilesystem(filepath.Dir(dbPath)) {
		util.WarnLog("Catalog directory is on a network filesystem; the ingestion lock may not be honored")
	}

	util.InfoLog("=== Catalog Ingestion ===")
	util.InfoLog("Catalog: %s", dbPath)
	util.InfoLog("Magnitude limit: G < %s", util.FormatMagnitude(magLimit))

	result, err := ingestor.Run(ctx, magLimit)
	if err != nil {
		if errors.Is(err, ingest.ErrIngestInProgress) {
			return fmt.Errorf("another ingestion is running against %s: %w", dbPath, err)
		}
		util.ErrorLog("Ingestion aborted; existing catalog left unchanged")
		return fmt.Errorf("ingestion failed: %w", err)
	}

	util.SuccessLog("Ingestion complete in %v", result.Duration.Round(time.Millisecond))
	util.InfoLog("  Rows fetched: %s", util.FormatCount(int64(result.Fetched)))
	util.InfoLog("  Stars stored: %s", util.FormatCount(int64(result.Stored)))
	if result.Skipped > 0 {
		util.WarnLog("  Rows skipped: %s", util.FormatCount(int64(result.Skipped)))
	}

	return nil
}
