package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/settle"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLatest_PicksByFilenameDate(t *testing.T) {
	s := newTestStore(t)
	old := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)

	// Write the newer snapshot first so modification time disagrees with the
	// filename date.
	writeFile(t, s.Path(KindOdds, recent), "tournament,player_a,player_b,odds_a,odds_b,source_time\n")
	writeFile(t, s.Path(KindOdds, old), "tournament,player_a,player_b,odds_a,odds_b,source_time\n")
	writeFile(t, filepath.Join(s.Dir(), "market_odds_garbage.csv"), "ignored\n")

	path, date, err := s.Latest(KindOdds)
	if err != nil {
		t.Fatal(err)
	}
	if !date.Equal(recent) {
		t.Errorf("date = %s, want %s", date.Format(fileDateLayout), recent.Format(fileDateLayout))
	}
	if !strings.HasSuffix(path, "market_odds_20250415.csv") {
		t.Errorf("path = %s", path)
	}
}

func TestLatest_NoSnapshot(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Latest(KindProbabilities); err == nil {
		t.Error("want error when no snapshot exists")
	}
}

func TestReadProbabilities(t *testing.T) {
	s := newTestStore(t)
	date := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	path := s.Path(KindProbabilities, date)
	writeFile(t, path,
		"tournament,player_a,player_b,prob_a,prob_b,source_time\n"+
			"Wimbledon,Roger Federer,Rafael Nadal,0.62,0.38,2025-04-15T07:00:00Z\n")

	recs, err := s.ReadProbabilities(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].ProbA != 0.62 || recs[0].PlayerB != "Rafael Nadal" {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestReadTable_Errors(t *testing.T) {
	s := newTestStore(t)
	date := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	path := s.Path(KindProbabilities, date)

	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"wrong header", "a,b,c\n1,2,3\n"},
		{"bad prob value", "tournament,player_a,player_b,prob_a,prob_b,source_time\nW,A,B,high,0.4,2025-04-15\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeFile(t, path, tt.content)
			if _, err := s.ReadProbabilities(path); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestComparisons_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	date := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	rows := []core.ComparisonRow{{
		MatchDate: date, Tournament: "Wimbledon",
		PlayerA: "Roger Federer", PlayerB: "Rafael Nadal",
		ProbA: 0.62, ProbB: 0.38,
		ImpliedA: 0.5555555555555556, ImpliedB: 0.5,
		OddsA: 1.8, OddsB: 2.0,
		SpreadA: 0.06444444444444442, SpreadB: -0.12,
	}}

	if err := s.WriteComparisons(date, rows); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadComparisons(s.Path(KindComparisons, date))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	r := got[0]
	if r.OddsA != 1.8 || r.SpreadA != rows[0].SpreadA || !r.MatchDate.Equal(date) {
		t.Errorf("row = %+v", r)
	}
	if r.PlayerA != "Roger Federer" || r.Tournament != "Wimbledon" {
		t.Errorf("row = %+v", r)
	}
}

func TestReadResults_DateFromCaller(t *testing.T) {
	s := newTestStore(t)
	date := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	path := s.Path(KindResults, date)
	writeFile(t, path,
		"tournament,winner,loser,score\n"+
			"Wimbledon,Roger Federer,Rafael Nadal,6-4 6-4\n")

	results, err := s.ReadResults(path, date)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Winner != "Roger Federer" || !results[0].ResultDate.Equal(date) {
		t.Errorf("result = %+v", results[0])
	}
}

func TestWriteSummary_FullRewrite(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteSummary([]settle.SummaryRow{{
		Date: "2025-04-16", Strategy: "s1", Settled: 2,
		DailyPnL: decimal.NewFromFloat(-0.01), CumPnL: decimal.NewFromFloat(-0.01),
	}}); err != nil {
		t.Fatal(err)
	}

	// A later rewrite replaces the table wholesale.
	if err := s.WriteSummary([]settle.SummaryRow{
		{Date: "2025-04-16", Strategy: "s1", Settled: 2, DailyPnL: decimal.NewFromFloat(-0.01), CumPnL: decimal.NewFromFloat(-0.01)},
		{Date: "2025-04-17", Strategy: "s1", Settled: 1, DailyPnL: decimal.NewFromFloat(0.04), CumPnL: decimal.NewFromFloat(0.03)},
	}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), SummaryFilename))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header plus 2 rows", len(lines))
	}
	if lines[2] != "2025-04-17,s1,1,0.0400,0.0300" {
		t.Errorf("row = %q", lines[2])
	}
}
