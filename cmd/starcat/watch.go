package main

import (
	"fmt"
	"time"

	"github.com/franz/starcat/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep a query engine open and follow catalog rebuilds",
	Long: `Open the query engine and keep it open until interrupted. Whenever an
ingestion run swaps in a new catalog file the engine reloads it, so
long-running consumers see the rebuilt catalog without restarting.

Every --interval the number of stars brighter than --mag-limit is logged
together with the source that served them and the engine counters.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Duration("interval", time.Minute, "how often to log a bright-star probe")
	watchCmd.Flags().Float64("mag-limit", 6.5, "faintest magnitude for the probe (exclusive)")

	viper.BindPFlag("watch.interval", watchCmd.Flags().Lookup("interval"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	setupLogging()

	interval := GetConfigDuration("watch.interval", time.Minute)
	magLimit, _ := cmd.Flags().GetFloat64("mag-limit")
	if interval <= 0 {
		return fmt.Errorf("%w: watch interval must be positive", util.ErrInvalidConfig)
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	done, err := engine.WatchStore(ctx)
	if err != nil {
		return err
	}

	util.InfoLog("Watching %s (probe every %s)", GetConfigString("db", defaultDBPath), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() {
		res, err := engine.Bright(ctx, magLimit)
		if err != nil {
			return
		}
		st := engine.Stats()
		util.InfoLog("%s stars brighter than %s from %s (queries=%d fallbacks=%d reloads=%d breaker=%s)",
			util.FormatCount(int64(len(res.Stars))), util.FormatMagnitude(magLimit), res.Source,
			st.Queries, st.Fallbacks, st.Reloads, st.BreakerState)
	}

	probe()
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-ticker.C:
			probe()
		}
	}

	<-done
	util.InfoLog("Stopped watching")
	return nil
}
