// Package metrics exposes Prometheus metrics for pipeline passes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"
	OutcomeHealed = "healed"
)

// Pipeline holds the collectors recorded by the orchestrator. A nil
// *Pipeline records nothing.
type Pipeline struct {
	stageRecords  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	validRows     prometheus.Counter
	runs          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Pipeline {
	m := &Pipeline{
		stageRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opennames_stage_records_total",
				Help: "Records handled per pipeline stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "opennames_stage_duration_seconds",
				Help: "Time spent per record in each pipeline stage",
				// Transforms of large tiles and LOAD CSV commits run for minutes.
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		validRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opennames_rows_valid_total",
			Help: "Rows written to processed artifacts",
		}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opennames_runs_total",
				Help: "Pipeline passes by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.stageRecords, m.stageDuration, m.validRows, m.runs)
	return m
}

// Record counts one record through stage and observes its duration.
func (m *Pipeline) Record(stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageRecords.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ValidRows adds n rows produced by the transform stage.
func (m *Pipeline) ValidRows(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.validRows.Add(float64(n))
}

// Run counts a finished pass.
func (m *Pipeline) Run(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}
