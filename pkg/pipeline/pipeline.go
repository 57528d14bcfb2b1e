// Package pipeline coordinates the daily batch run: merge snapshots into the
// comparison table, evaluate strategies into the ledger, settle pending bets
// against results. It is single-threaded and run-to-completion; the only
// shared mutable state across runs is the ledger, which is read once at the
// start of a run and committed once, atomically, at the end. A failed run
// never commits, so the previous day's state survives any crash.
package pipeline

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/artifact"
	"github.com/phenomenon0/courtedge/pkg/compare"
	"github.com/phenomenon0/courtedge/pkg/ledger"
	"github.com/phenomenon0/courtedge/pkg/match"
	"github.com/phenomenon0/courtedge/pkg/metrics"
	"github.com/phenomenon0/courtedge/pkg/settle"
	"github.com/phenomenon0/courtedge/pkg/strategy"
)

// Stage identifies a pipeline stage.
type Stage string

const (
	StageProcess    Stage = "process"
	StageStrategies Stage = "strategies"
	StageSettle     Stage = "settle"
	StageCommit     Stage = "commit"
)

// StageResult holds the outcome of one stage execution.
type StageResult struct {
	Stage     Stage         `json:"stage"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report is the outcome of a full run.
type Report struct {
	RunID         string
	Date          time.Time
	Stages        []StageResult
	Merge         compare.Result
	NewCandidates int
	SkippedDup    int
	Settlement    settle.Outcome
	LedgerSize    int
	Summary       []settle.SummaryRow
}

// Pipeline wires the engines together over one artifact store and ledger
// store.
type Pipeline struct {
	store    *artifact.Store
	ledger   ledger.Store
	matcher  *match.Matcher
	compare  *compare.Engine
	strategy *strategy.Engine
	settle   *settle.Engine
	metrics  *metrics.PipelineMetrics

	onStageComplete func(StageResult)
}

// New assembles a pipeline.
func New(store *artifact.Store, ledgerStore ledger.Store, matcher *match.Matcher,
	strategyEngine *strategy.Engine, settleEngine *settle.Engine, m *metrics.PipelineMetrics) *Pipeline {
	if m == nil {
		m = metrics.NewPipelineMetrics()
	}
	return &Pipeline{
		store:    store,
		ledger:   ledgerStore,
		matcher:  matcher,
		compare:  compare.NewEngine(matcher),
		strategy: strategyEngine,
		settle:   settleEngine,
		metrics:  m,
	}
}

// OnStageComplete sets a callback invoked after each stage.
func (p *Pipeline) OnStageComplete(fn func(StageResult)) {
	p.onStageComplete = fn
}

// Run executes the requested stages for one run date. Stages share a single
// in-memory ledger; the commit stage persists it exactly once. Any stage
// error aborts the run before the commit, leaving the stored ledger
// untouched.
func (p *Pipeline) Run(date time.Time, process, strategies, settlement bool) (*Report, error) {
	report := &Report{
		RunID: uuid.New().String(),
		Date:  date,
	}
	log.Printf("[pipeline] run %s for %s", report.RunID, date.Format(core.DateFormat))

	led, err := p.ledger.Load()
	if err != nil {
		return nil, fmt.Errorf("pipeline: load ledger: %w", err)
	}

	if process {
		if err := p.runStage(report, StageProcess, func() error {
			return p.processStage(report, date)
		}); err != nil {
			return report, err
		}
	}
	if strategies {
		if err := p.runStage(report, StageStrategies, func() error {
			return p.strategiesStage(report, led, date)
		}); err != nil {
			return report, err
		}
	}
	if settlement {
		if err := p.runStage(report, StageSettle, func() error {
			return p.settleStage(report, led, date)
		}); err != nil {
			return report, err
		}
	}

	dirty := strategies || settlement
	if dirty {
		if err := p.runStage(report, StageCommit, func() error {
			return p.ledger.Save(led)
		}); err != nil {
			return report, err
		}
	}

	report.LedgerSize = led.Len()
	p.metrics.LedgerSize.Set(float64(led.Len()))
	report.Summary = settle.Summarize(led)
	for _, row := range report.Summary {
		p.metrics.SetCumulativePnL(row.Strategy, row.CumPnL)
	}

	// The summary is written only after the ledger commit, so it never
	// reflects settlements the ledger has not durably recorded.
	if settlement {
		if err := p.store.WriteSummary(report.Summary); err != nil {
			return report, fmt.Errorf("pipeline: write summary: %w", err)
		}
	}
	return report, nil
}

// processStage merges the latest probability and odds snapshots and writes
// the processed comparison table for the run date.
func (p *Pipeline) processStage(report *Report, date time.Time) error {
	probPath, probDate, err := p.store.Latest(artifact.KindProbabilities)
	if err != nil {
		return err
	}
	oddsPath, oddsDate, err := p.store.Latest(artifact.KindOdds)
	if err != nil {
		return err
	}
	log.Printf("[process] probabilities %s, odds %s",
		probDate.Format(core.DateFormat), oddsDate.Format(core.DateFormat))

	probs, err := p.store.ReadProbabilities(probPath)
	if err != nil {
		return err
	}
	odds, err := p.store.ReadOdds(oddsPath)
	if err != nil {
		return err
	}

	res := p.compare.Merge(date, probs, odds)
	report.Merge = res

	p.metrics.RowsMatched.Add(float64(res.Matched))
	p.metrics.FuzzyResolved.Add(float64(res.FuzzyMatched))
	p.metrics.ComparisonRows.Set(float64(len(res.Rows)))
	p.metrics.RowsDropped.WithLabelValues("unmatched").Add(float64(res.ProbOnly + res.OddsOnly))
	p.metrics.RowsDropped.WithLabelValues("invalid_prob").Add(float64(res.InvalidProb))
	p.metrics.RowsDropped.WithLabelValues("invalid_odds").Add(float64(res.InvalidOdds))

	log.Printf("[process] %d matched (%d fuzzy), %d prob-only, %d odds-only, %d invalid",
		res.Matched, res.FuzzyMatched, res.ProbOnly, res.OddsOnly, res.InvalidProb+res.InvalidOdds)

	return p.store.WriteComparisons(date, res.Rows)
}

// strategiesStage evaluates the configured strategies over the run date's
// comparison table and appends new candidates to the ledger.
func (p *Pipeline) strategiesStage(report *Report, led *ledger.Ledger, date time.Time) error {
	path := p.store.Path(artifact.KindComparisons, date)
	rows, err := p.store.ReadComparisons(path)
	if err != nil {
		return err
	}
	// Re-derive the join keys dropped from the persisted table.
	for i := range rows {
		rows[i].TournamentKey = p.matcher.TournamentKey(rows[i].Tournament)
		rows[i].PlayerAKey = p.matcher.PlayerKey(rows[i].PlayerA)
		rows[i].PlayerBKey = p.matcher.PlayerKey(rows[i].PlayerB)
	}

	res := p.strategy.Evaluate(rows, led.Has, time.Now().UTC())
	added := led.UpsertNew(res.Candidates)
	report.NewCandidates = added
	report.SkippedDup = res.SkippedDup

	for _, c := range res.Candidates {
		p.metrics.CandidatesTotal.WithLabelValues(c.Strategy).Inc()
	}
	p.metrics.DuplicatesTotal.Add(float64(res.SkippedDup))

	log.Printf("[strategies] %d new candidates, %d duplicates skipped, ledger at %d entries",
		added, res.SkippedDup, led.Len())
	return nil
}

// settleStage loads result snapshots for every date a pending bet is waiting
// on and reconciles the ledger against them.
func (p *Pipeline) settleStage(report *Report, led *ledger.Ledger, today time.Time) error {
	var results []core.MatchResult
	seen := make(map[string]bool)
	for _, bet := range led.Pending() {
		dateKey := bet.MatchDate.Format(core.DateFormat)
		if seen[dateKey] {
			continue
		}
		seen[dateKey] = true
		if !p.store.Has(artifact.KindResults, bet.MatchDate) {
			log.Printf("[settle] no results snapshot yet for %s", dateKey)
			continue
		}
		rs, err := p.store.ReadResults(p.store.Path(artifact.KindResults, bet.MatchDate), bet.MatchDate)
		if err != nil {
			return err
		}
		results = append(results, rs...)
	}

	outcome := p.settle.Settle(led, results, today)
	report.Settlement = outcome

	p.metrics.SettledTotal.WithLabelValues(string(core.StatusWon)).Add(float64(outcome.Won))
	p.metrics.SettledTotal.WithLabelValues(string(core.StatusLost)).Add(float64(outcome.Lost))
	p.metrics.SettledTotal.WithLabelValues(string(core.StatusVoid)).Add(float64(outcome.Void))

	log.Printf("[settle] %d won, %d lost, %d void, %d still pending, %d skipped",
		outcome.Won, outcome.Lost, outcome.Void, outcome.StillPending, outcome.Skipped)
	return nil
}

func (p *Pipeline) runStage(report *Report, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	result := StageResult{
		Stage:     stage,
		Success:   err == nil,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		result.Error = err.Error()
		p.metrics.StageFailures.WithLabelValues(string(stage)).Inc()
	}
	p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(result.Duration.Seconds())
	report.Stages = append(report.Stages, result)
	if p.onStageComplete != nil {
		p.onStageComplete(result)
	}
	if err != nil {
		return fmt.Errorf("pipeline: stage %s: %w", stage, err)
	}
	return nil
}
