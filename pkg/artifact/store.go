// Package artifact reads and writes the dated tabular files exchanged with
// the external collaborators: collectors drop probability, odds and results
// snapshots into the data directory, and the renderer picks up the processed
// comparison table, ledger and daily summary from the same place.
//
// File naming: <kind>_<YYYYMMDD>.csv. Everything is plain CSV with a fixed
// header per kind; an unreadable or malformed table is a fatal error so a
// bad input never reaches the ledger.
package artifact

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/settle"
)

// Snapshot kinds, used in filenames.
const (
	KindProbabilities = "model_probs"
	KindOdds          = "market_odds"
	KindResults       = "match_results"
	KindComparisons   = "processed_comparison"
)

// SummaryFilename is the cumulative daily summary table.
const SummaryFilename = "daily_summary.csv"

const fileDateLayout = "20060102"

// Store is a directory-backed artifact store.
type Store struct {
	dir string
}

// NewStore creates a store over dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path for a kind on a date.
func (s *Store) Path(kind string, date time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", kind, date.Format(fileDateLayout)))
}

// Latest returns the path and date of the most recent snapshot of a kind.
// The date embedded in the filename decides recency, not file modification
// time, so re-copying an old snapshot cannot shadow a newer one.
func (s *Store) Latest(kind string) (string, time.Time, error) {
	pattern := filepath.Join(s.dir, kind+"_*.csv")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("artifact: glob %q: %w", pattern, err)
	}
	var (
		bestPath string
		bestDate time.Time
	)
	sort.Strings(files)
	for _, f := range files {
		base := strings.TrimSuffix(filepath.Base(f), ".csv")
		dateStr := strings.TrimPrefix(base, kind+"_")
		d, err := time.Parse(fileDateLayout, dateStr)
		if err != nil {
			continue
		}
		if bestPath == "" || d.After(bestDate) {
			bestPath, bestDate = f, d
		}
	}
	if bestPath == "" {
		return "", time.Time{}, fmt.Errorf("artifact: no %s snapshot in %q", kind, s.dir)
	}
	return bestPath, bestDate, nil
}

// Has reports whether a snapshot of kind exists for the date.
func (s *Store) Has(kind string, date time.Time) bool {
	_, err := os.Stat(s.Path(kind, date))
	return err == nil
}

var (
	probHeader    = []string{"tournament", "player_a", "player_b", "prob_a", "prob_b", "source_time"}
	oddsHeader    = []string{"tournament", "player_a", "player_b", "odds_a", "odds_b", "source_time"}
	resultsHeader = []string{"tournament", "winner", "loser", "score"}
	compareHeader = []string{
		"match_date", "tournament", "player_a", "player_b",
		"prob_a", "prob_b", "implied_a", "implied_b",
		"odds_a", "odds_b", "spread_a", "spread_b",
	}
	summaryHeader = []string{"date", "strategy", "bets_settled", "daily_pnl", "cumulative_pnl"}
)

// ReadProbabilities loads a model probability snapshot.
func (s *Store) ReadProbabilities(path string) ([]core.ProbabilityRecord, error) {
	rows, err := readTable(path, probHeader)
	if err != nil {
		return nil, err
	}
	out := make([]core.ProbabilityRecord, 0, len(rows))
	for i, rec := range rows {
		probA, errA := strconv.ParseFloat(rec[3], 64)
		probB, errB := strconv.ParseFloat(rec[4], 64)
		ts, errT := parseSourceTime(rec[5])
		if errA != nil || errB != nil || errT != nil {
			return nil, fmt.Errorf("artifact: %q row %d: malformed probability row", path, i+2)
		}
		out = append(out, core.ProbabilityRecord{
			Tournament: rec[0], PlayerA: rec[1], PlayerB: rec[2],
			ProbA: probA, ProbB: probB, SourceTime: ts,
		})
	}
	return out, nil
}

// ReadOdds loads a market odds snapshot.
func (s *Store) ReadOdds(path string) ([]core.OddsRecord, error) {
	rows, err := readTable(path, oddsHeader)
	if err != nil {
		return nil, err
	}
	out := make([]core.OddsRecord, 0, len(rows))
	for i, rec := range rows {
		oddsA, errA := strconv.ParseFloat(rec[3], 64)
		oddsB, errB := strconv.ParseFloat(rec[4], 64)
		ts, errT := parseSourceTime(rec[5])
		if errA != nil || errB != nil || errT != nil {
			return nil, fmt.Errorf("artifact: %q row %d: malformed odds row", path, i+2)
		}
		out = append(out, core.OddsRecord{
			Tournament: rec[0], PlayerA: rec[1], PlayerB: rec[2],
			OddsA: oddsA, OddsB: oddsB, SourceTime: ts,
		})
	}
	return out, nil
}

// ReadResults loads a results snapshot. The result date comes from the
// filename, passed in by the caller.
func (s *Store) ReadResults(path string, resultDate time.Time) ([]core.MatchResult, error) {
	rows, err := readTable(path, resultsHeader)
	if err != nil {
		return nil, err
	}
	out := make([]core.MatchResult, 0, len(rows))
	for _, rec := range rows {
		out = append(out, core.MatchResult{
			Tournament: rec[0], Winner: rec[1], Loser: rec[2], Score: rec[3],
			ResultDate: resultDate,
		})
	}
	return out, nil
}

// WriteComparisons writes the processed comparison table for a date.
func (s *Store) WriteComparisons(date time.Time, rows []core.ComparisonRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.MatchDate.Format(core.DateFormat), r.Tournament, r.PlayerA, r.PlayerB,
			formatFloat(r.ProbA), formatFloat(r.ProbB),
			formatFloat(r.ImpliedA), formatFloat(r.ImpliedB),
			formatFloat(r.OddsA), formatFloat(r.OddsB),
			formatFloat(r.SpreadA), formatFloat(r.SpreadB),
		})
	}
	return writeTable(s.Path(KindComparisons, date), compareHeader, records)
}

// ReadComparisons loads a processed comparison table. Join keys are not
// persisted; callers re-derive them through the matcher, which is the same
// deterministic pipeline that produced them.
func (s *Store) ReadComparisons(path string) ([]core.ComparisonRow, error) {
	rows, err := readTable(path, compareHeader)
	if err != nil {
		return nil, err
	}
	out := make([]core.ComparisonRow, 0, len(rows))
	for i, rec := range rows {
		matchDate, err := time.Parse(core.DateFormat, rec[0])
		if err != nil {
			return nil, fmt.Errorf("artifact: %q row %d: match_date: %w", path, i+2, err)
		}
		vals := make([]float64, 8)
		for j := 0; j < 8; j++ {
			v, err := strconv.ParseFloat(rec[4+j], 64)
			if err != nil {
				return nil, fmt.Errorf("artifact: %q row %d: column %s: %w", path, i+2, compareHeader[4+j], err)
			}
			vals[j] = v
		}
		out = append(out, core.ComparisonRow{
			MatchDate: matchDate, Tournament: rec[1], PlayerA: rec[2], PlayerB: rec[3],
			ProbA: vals[0], ProbB: vals[1], ImpliedA: vals[2], ImpliedB: vals[3],
			OddsA: vals[4], OddsB: vals[5], SpreadA: vals[6], SpreadB: vals[7],
		})
	}
	return out, nil
}

// WriteSummary rewrites the cumulative daily summary table. The summary is
// always recomputed from the full ledger, so a full rewrite is the upsert.
func (s *Store) WriteSummary(rows []settle.SummaryRow) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Date, r.Strategy, strconv.Itoa(r.Settled),
			r.DailyPnL.StringFixed(4), r.CumPnL.StringFixed(4),
		})
	}
	return writeTable(filepath.Join(s.dir, SummaryFilename), summaryHeader, records)
}

// readTable reads a CSV file and validates its header.
func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %q: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("artifact: parse %q: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("artifact: %q is empty", path)
	}
	if len(records[0]) != len(header) {
		return nil, fmt.Errorf("artifact: %q has header %v, want %v", path, records[0], header)
	}
	for i, col := range header {
		if records[0][i] != col {
			return nil, fmt.Errorf("artifact: %q has header %v, want %v", path, records[0], header)
		}
	}
	for i, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("artifact: %q row %d has %d columns, want %d", path, i+2, len(rec), len(header))
		}
	}
	return records[1:], nil
}

// writeTable writes a CSV file through a temp-and-rename so readers never
// observe a half-written table.
func writeTable(path string, header []string, records [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("artifact: create temp for %q: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: write header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("artifact: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: flush %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("artifact: commit %q: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseSourceTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(core.DateFormat, s)
}
