package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/artifact"
	"github.com/phenomenon0/courtedge/pkg/ledger"
	"github.com/phenomenon0/courtedge/pkg/match"
	"github.com/phenomenon0/courtedge/pkg/settle"
	"github.com/phenomenon0/courtedge/pkg/strategy"
)

var runDate = time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)

type fixture struct {
	pipeline   *Pipeline
	store      *artifact.Store
	ledgerPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := artifact.NewStore(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatal(err)
	}
	ledgerPath := filepath.Join(dir, "ledger.csv")

	matcher := match.New(match.Config{})
	strategyEngine, err := strategy.NewEngine(nil)
	if err != nil {
		t.Fatal(err)
	}
	settleEngine := settle.NewEngine(matcher, 5)

	p := New(store, ledger.NewCSVStore(ledgerPath), matcher, strategyEngine, settleEngine, nil)
	return &fixture{pipeline: p, store: store, ledgerPath: ledgerPath}
}

func (f *fixture) writeSnapshots(t *testing.T) {
	t.Helper()
	writeFile(t, f.store.Path(artifact.KindProbabilities, runDate),
		"tournament,player_a,player_b,prob_a,prob_b,source_time\n"+
			"Wimbledon,Roger Federer,Rafael Nadal,0.8,0.2,2025-04-15T07:00:00Z\n")
	writeFile(t, f.store.Path(artifact.KindOdds, runDate),
		"tournament,player_a,player_b,odds_a,odds_b,source_time\n"+
			"Wimbledon,Roger Federer,Rafael Nadal,2.0,2.0,2025-04-15T07:05:00Z\n")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_FullPass(t *testing.T) {
	f := newFixture(t)
	f.writeSnapshots(t)

	var stages []Stage
	f.pipeline.OnStageComplete(func(r StageResult) {
		if !r.Success {
			t.Errorf("stage %s failed: %s", r.Stage, r.Error)
		}
		stages = append(stages, r.Stage)
	})

	report, err := f.pipeline.Run(runDate, true, true, true)
	if err != nil {
		t.Fatal(err)
	}

	want := []Stage{StageProcess, StageStrategies, StageSettle, StageCommit}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}

	if report.Merge.Matched != 1 {
		t.Errorf("Matched = %d, want 1", report.Merge.Matched)
	}
	// Default strategies on prob 0.8 at even odds: prob-diff and max-spread
	// each back side A at flat stake, Kelly backs side A at the stake cap.
	if report.NewCandidates != 3 {
		t.Errorf("NewCandidates = %d, want 3", report.NewCandidates)
	}
	if report.Settlement.StillPending != 3 {
		t.Errorf("StillPending = %d, want 3 with no results yet", report.Settlement.StillPending)
	}
	if report.LedgerSize != 3 {
		t.Errorf("LedgerSize = %d, want 3", report.LedgerSize)
	}

	// Commit persisted the ledger.
	led, err := ledger.NewCSVStore(f.ledgerPath).Load()
	if err != nil {
		t.Fatal(err)
	}
	if led.Len() != 3 {
		t.Errorf("persisted ledger Len = %d, want 3", led.Len())
	}
	if !f.store.Has(artifact.KindComparisons, runDate) {
		t.Error("comparison table not written")
	}
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeSnapshots(t)

	if _, err := f.pipeline.Run(runDate, true, true, true); err != nil {
		t.Fatal(err)
	}
	report, err := f.pipeline.Run(runDate, true, true, true)
	if err != nil {
		t.Fatal(err)
	}

	if report.NewCandidates != 0 {
		t.Errorf("NewCandidates = %d, want 0 on rerun", report.NewCandidates)
	}
	if report.SkippedDup != 3 {
		t.Errorf("SkippedDup = %d, want 3", report.SkippedDup)
	}
	if report.LedgerSize != 3 {
		t.Errorf("LedgerSize = %d, want unchanged 3", report.LedgerSize)
	}
}

func TestRun_SettlesWhenResultsArrive(t *testing.T) {
	f := newFixture(t)
	f.writeSnapshots(t)

	if _, err := f.pipeline.Run(runDate, true, true, true); err != nil {
		t.Fatal(err)
	}

	writeFile(t, f.store.Path(artifact.KindResults, runDate),
		"tournament,winner,loser,score\n"+
			"Wimbledon,Roger Federer,Rafael Nadal,6-4 6-4\n")

	report, err := f.pipeline.Run(runDate.Add(24*time.Hour), false, false, true)
	if err != nil {
		t.Fatal(err)
	}

	if report.Settlement.Won != 3 {
		t.Fatalf("Won = %d, want all 3 (every strategy backed the winner)", report.Settlement.Won)
	}

	// Two flat stakes of 1 at odds 2.0 plus a capped Kelly stake of 0.1,
	// all at odds 2.0: total profit 2.1 on one settlement date.
	if len(report.Summary) != 3 {
		t.Fatalf("summary rows = %d, want one per strategy", len(report.Summary))
	}
	total := decimal.Zero
	for _, row := range report.Summary {
		total = total.Add(row.DailyPnL)
	}
	if !total.Equal(decimal.NewFromFloat(2.1)) {
		t.Errorf("total daily pnl = %s, want 2.1", total)
	}

	if _, err := os.Stat(filepath.Join(f.store.Dir(), artifact.SummaryFilename)); err != nil {
		t.Errorf("daily summary not written: %v", err)
	}

	// A further settlement pass finds nothing pending and changes nothing.
	again, err := f.pipeline.Run(runDate.Add(48*time.Hour), false, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if again.Settlement.Settled() != 0 || again.Settlement.Skipped != 0 {
		t.Errorf("second settlement = %+v, want no-op", again.Settlement)
	}
}

func TestRun_QualifyingTournamentSettles(t *testing.T) {
	f := newFixture(t)
	// Every feed spells the event with the qualifying suffix; the keys
	// re-derived from persisted tables must still line up with the results.
	writeFile(t, f.store.Path(artifact.KindProbabilities, runDate),
		"tournament,player_a,player_b,prob_a,prob_b,source_time\n"+
			"\"Madrid Open, Qualifying\",Roger Federer,Rafael Nadal,0.8,0.2,2025-04-15T07:00:00Z\n")
	writeFile(t, f.store.Path(artifact.KindOdds, runDate),
		"tournament,player_a,player_b,odds_a,odds_b,source_time\n"+
			"\"Madrid Open, Qualifying\",Roger Federer,Rafael Nadal,2.0,2.0,2025-04-15T07:05:00Z\n")

	if _, err := f.pipeline.Run(runDate, true, true, true); err != nil {
		t.Fatal(err)
	}

	writeFile(t, f.store.Path(artifact.KindResults, runDate),
		"tournament,winner,loser,score\n"+
			"\"Madrid Open, Qualifying\",Roger Federer,Rafael Nadal,6-4 6-4\n")

	report, err := f.pipeline.Run(runDate.Add(24*time.Hour), false, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Settlement.Won != 3 || report.Settlement.StillPending != 0 {
		t.Fatalf("settlement = %+v, want all 3 won", report.Settlement)
	}
}

// failingSaveStore serves a fixed ledger but refuses to commit.
type failingSaveStore struct {
	led *ledger.Ledger
}

func (s *failingSaveStore) Load() (*ledger.Ledger, error) { return s.led, nil }
func (s *failingSaveStore) Save(*ledger.Ledger) error {
	return errors.New("disk full")
}

func TestRun_NoSummaryWithoutCommit(t *testing.T) {
	dir := t.TempDir()
	store, err := artifact.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, store.Path(artifact.KindResults, runDate),
		"tournament,winner,loser,score\n"+
			"Wimbledon,Roger Federer,Rafael Nadal,6-4 6-4\n")

	led := ledger.New()
	led.UpsertNew([]core.CandidateBet{{
		ID:           "b1",
		MatchDate:    runDate,
		Tournament:   "Wimbledon",
		PlayerBacked: "Roger Federer",
		Opponent:     "Rafael Nadal",
		Strategy:     "s1",
		OddsTaken:    2.0,
		ModelProb:    0.6,
		Stake:        decimal.NewFromInt(1),
		Status:       core.StatusPending,
		CreatedAt:    runDate,
	}})

	matcher := match.New(match.Config{})
	strategyEngine, err := strategy.NewEngine(nil)
	if err != nil {
		t.Fatal(err)
	}
	p := New(store, &failingSaveStore{led: led}, matcher, strategyEngine, settle.NewEngine(matcher, 5), nil)

	if _, err := p.Run(runDate.Add(24*time.Hour), false, false, true); err == nil {
		t.Fatal("want error when the ledger commit fails")
	}
	if _, err := os.Stat(filepath.Join(dir, artifact.SummaryFilename)); !os.IsNotExist(err) {
		t.Error("summary written despite failed commit")
	}
}

func TestRun_MissingSnapshotsFailBeforeCommit(t *testing.T) {
	f := newFixture(t)

	report, err := f.pipeline.Run(runDate, true, true, true)
	if err == nil {
		t.Fatal("want error with no snapshots present")
	}
	if len(report.Stages) != 1 || report.Stages[0].Stage != StageProcess || report.Stages[0].Success {
		t.Errorf("stages = %+v, want one failed process stage", report.Stages)
	}
	if _, statErr := os.Stat(f.ledgerPath); !os.IsNotExist(statErr) {
		t.Error("failed run must not write the ledger")
	}
}

func TestRun_SettleOnlyDoesNotRequireSnapshots(t *testing.T) {
	f := newFixture(t)

	report, err := f.pipeline.Run(runDate, false, false, true)
	if err != nil {
		t.Fatalf("settle-only run over an empty ledger: %v", err)
	}
	if report.Settlement.Settled() != 0 || report.LedgerSize != 0 {
		t.Errorf("settlement = %+v ledger %d, want empty no-op", report.Settlement, report.LedgerSize)
	}
}
