package ingest

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gauges describing the last ingestion run. Ingestion is
// a batch job, so the registry is written to a node_exporter textfile
// rather than scraped.
type Metrics struct {
	registry *prometheus.Registry

	RowsFetched   prometheus.Gauge
	StarsStored   prometheus.Gauge
	RowsSkipped   prometheus.Gauge
	Duration      prometheus.Gauge
	LastSuccess   prometheus.Gauge
	FailuresTotal *prometheus.CounterVec
}

// NewMetrics creates the ingestion metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RowsFetched: factory.NewGauge(prometheus.GaugeOpts{
			Name: "starcat_ingest_rows_fetched",
			Help: "Rows returned by the archive in the last run",
		}),
		StarsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "starcat_ingest_stars_stored",
			Help: "Stars written to the catalog by the last successful run",
		}),
		RowsSkipped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "starcat_ingest_rows_skipped",
			Help: "Rows rejected during transformation in the last run",
		}),
		Duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "starcat_ingest_duration_seconds",
			Help: "Wall time of the last run",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "starcat_ingest_last_success_timestamp_seconds",
			Help: "Unix time the catalog was last replaced",
		}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "starcat_ingest_failures_total",
			Help: "Failed runs by phase",
		}, []string{"phase"}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in text exposition format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func (m *Metrics) observe(result *Result, phase string, start time.Time) {
	if m == nil {
		return
	}

	m.Duration.Set(time.Since(start).Seconds())
	if result != nil {
		m.RowsFetched.Set(float64(result.Fetched))
		m.RowsSkipped.Set(float64(result.Skipped))
	}

	if phase != "" {
		m.FailuresTotal.WithLabelValues(phase).Inc()
		return
	}
	m.StarsStored.Set(float64(result.Stored))
	m.LastSuccess.Set(float64(time.Now().Unix()))
}
