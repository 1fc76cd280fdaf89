package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franz/starcat/internal/fallback"
	"github.com/franz/starcat/internal/query"
	"github.com/franz/starcat/internal/report"
	"github.com/franz/starcat/internal/util"
	"github.com/spf13/viper"
)

const (
	defaultDBPath       = "data/gaia_catalog.db"
	defaultSnapshotPath = "data/bright_catalog.json"
)

func setDefaults() {
	viper.SetDefault("archive.poll_interval", 2*time.Second)
	viper.SetDefault("archive.timeout", 30*time.Minute)
	viper.SetDefault("ingest.mag_limit", 7.0)
	viper.SetDefault("ingest.batch_size", 500)
	viper.SetDefault("query.timeout", 5*time.Second)
	viper.SetDefault("query.recolor", query.RecolorCoarse)
	viper.SetDefault("query.breaker_failures", 3)
	viper.SetDefault("query.breaker_cooldown", 30*time.Second)
	viper.SetDefault("watch.interval", time.Minute)
	viper.SetDefault("events_dir", "artifacts")
}

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (STARCAT_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// GetConfigFloat retrieves a float config value with proper precedence
func GetConfigFloat(key string, defaultValue float64) float64 {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetFloat64(key)
}

// GetConfigDuration retrieves a duration config value with proper precedence
func GetConfigDuration(key string, defaultValue time.Duration) time.Duration {
	val := viper.GetDuration(key)
	if val <= 0 {
		return defaultValue
	}
	return val
}

// setupLogging applies the verbose/quiet flags
func setupLogging() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newEventLogger creates a JSONL event logger under events_dir, or a no-op
// logger if the directory cannot be used
func newEventLogger() *report.EventLogger {
	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}

	logger, err := report.NewEventLogger(GetConfigString("events_dir", "artifacts"), logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	return logger
}

// newEngine builds a query engine from configuration
func newEngine() (*query.Engine, error) {
	return query.New(&query.Config{
		StorePath:        GetConfigString("db", defaultDBPath),
		Fallback:         fallback.NewLoader(GetConfigString("snapshot", defaultSnapshotPath)),
		Workers:          viper.GetInt("query.workers"),
		Timeout:          GetConfigDuration("query.timeout", 5*time.Second),
		Recolor:          GetConfigString("query.recolor", query.RecolorCoarse),
		FailureThreshold: uint32(GetConfigInt("query.breaker_failures", 3)),
		Cooldown:         GetConfigDuration("query.breaker_cooldown", 30*time.Second),
	})
}
