// Package metrics records per-run pipeline metrics and writes them in the
// Prometheus text exposition format for a node-exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gazaledger"

// Run holds the gauges and counters for one invocation.
type Run struct {
	registry *prometheus.Registry

	success       prometheus.Gauge
	duration      prometheus.Gauge
	rows          prometheus.Gauge
	lastCount     prometheus.Gauge
	lastSnapshot  prometheus.Gauge
	stageFailures *prometheus.CounterVec
}

// NewRun creates a fresh registry with all run metrics registered.
func NewRun() *Run {
	r := &Run{
		registry: prometheus.NewRegistry(),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_success",
			Help: "1 if the last run committed or confirmed an entry, 0 otherwise.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ledger_rows",
			Help: "Number of entries in the ledger after the last run.",
		}),
		lastCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_fatality_count",
			Help: "Fatality count of the snapshot handled by the last run.",
		}),
		lastSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_snapshot_timestamp_seconds",
			Help: "Report date of the snapshot handled by the last run, as a Unix timestamp.",
		}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_failures_total",
			Help: "Failures by pipeline stage.",
		}, []string{"stage"}),
	}
	r.registry.MustRegister(r.success, r.duration, r.rows, r.lastCount, r.lastSnapshot, r.stageFailures)
	return r
}

// Registry exposes the underlying registry.
func (r *Run) Registry() *prometheus.Registry { return r.registry }

// Succeeded records a successful run.
func (r *Run) Succeeded(date time.Time, count int64, rows int, elapsed time.Duration) {
	r.success.Set(1)
	r.duration.Set(elapsed.Seconds())
	r.rows.Set(float64(rows))
	r.lastCount.Set(float64(count))
	r.lastSnapshot.Set(float64(date.Unix()))
}

// Failed records a run that stopped in stage.
func (r *Run) Failed(stage string, elapsed time.Duration) {
	r.success.Set(0)
	r.duration.Set(elapsed.Seconds())
	r.stageFailures.WithLabelValues(stage).Inc()
}

// RecordRows sets the ledger size gauge.
func (r *Run) RecordRows(rows int) { r.rows.Set(float64(rows)) }

// WriteFile writes the metrics to path, creating its directory. The write
// goes through a temp file so collectors never read a partial file.
func (r *Run) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
