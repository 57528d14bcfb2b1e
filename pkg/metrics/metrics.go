// Package metrics provides Prometheus metrics for pipeline run diagnostics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// PipelineMetrics collects and exposes run-level Prometheus metrics.
type PipelineMetrics struct {
	registry *prometheus.Registry

	// Matching / comparison
	RowsDropped    *prometheus.CounterVec // reason: unmatched | invalid_prob | invalid_odds
	RowsMatched    prometheus.Counter
	FuzzyResolved  prometheus.Counter
	ComparisonRows prometheus.Gauge

	// Strategy
	CandidatesTotal *prometheus.CounterVec // strategy
	DuplicatesTotal prometheus.Counter

	// Ledger / settlement
	LedgerSize    prometheus.Gauge
	SettledTotal  *prometheus.CounterVec // status
	CumulativePnL *prometheus.GaugeVec   // strategy

	// Stages
	StageDuration *prometheus.HistogramVec // stage
	StageFailures *prometheus.CounterVec   // stage
}

// NewPipelineMetrics creates a metrics collector on its own registry.
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	m := &PipelineMetrics{
		registry: registry,

		RowsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtedge_rows_dropped_total",
				Help: "Snapshot rows dropped before comparison",
			},
			[]string{"reason"},
		),
		RowsMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courtedge_rows_matched_total",
				Help: "Rows joined across both snapshot sources",
			},
		),
		FuzzyResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courtedge_fuzzy_resolved_total",
				Help: "Joins that needed the similarity fallback",
			},
		),
		ComparisonRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "courtedge_comparison_rows",
				Help: "Comparison rows produced by the latest run",
			},
		),
		CandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtedge_candidate_bets_total",
				Help: "New candidate bets appended to the ledger",
			},
			[]string{"strategy"},
		),
		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "courtedge_duplicate_candidates_total",
				Help: "Candidate bets skipped because their ID already existed",
			},
		),
		LedgerSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "courtedge_ledger_entries",
				Help: "Total entries in the ledger",
			},
		),
		SettledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtedge_settled_bets_total",
				Help: "Bets settled, by terminal status",
			},
			[]string{"status"},
		),
		CumulativePnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "courtedge_cumulative_pnl",
				Help: "Cumulative P&L per strategy from the full ledger history",
			},
			[]string{"strategy"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courtedge_stage_duration_seconds",
				Help:    "Pipeline stage execution time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		StageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courtedge_stage_failures_total",
				Help: "Pipeline stage failures",
			},
			[]string{"stage"},
		),
	}

	registry.MustRegister(
		m.RowsDropped, m.RowsMatched, m.FuzzyResolved, m.ComparisonRows,
		m.CandidatesTotal, m.DuplicatesTotal,
		m.LedgerSize, m.SettledTotal, m.CumulativePnL,
		m.StageDuration, m.StageFailures,
	)
	return m
}

// Registry returns the underlying registry for promhttp handlers.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetCumulativePnL records a strategy's cumulative P&L.
func (m *PipelineMetrics) SetCumulativePnL(strategy string, pnl decimal.Decimal) {
	v, _ := pnl.Float64()
	m.CumulativePnL.WithLabelValues(strategy).Set(v)
}
