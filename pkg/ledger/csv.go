package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/courtedge/core"
)

// csvHeader is the ledger file schema. Column order is part of the on-disk
// contract; the renderer reads this file directly.
var csvHeader = []string{
	"bet_id", "match_date", "tournament", "player_backed", "opponent",
	"strategy", "odds_taken", "model_prob", "stake_fraction",
	"status", "pnl", "created_at", "settled_at",
}

const timeLayout = time.RFC3339

// CSVStore persists the ledger as a single CSV file. Saves go through a
// temp file in the same directory followed by a rename, so the committed
// file is always a complete ledger.
type CSVStore struct {
	path string
}

// NewCSVStore creates a store writing to path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Load reads the ledger file. A missing file is an empty ledger, not an
// error, so the first ever run needs no setup. A malformed file is fatal:
// settling against a partially read ledger could lose entries.
func (s *CSVStore) Load() (*Ledger, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open %q: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: parse %q: %w", s.path, err)
	}
	if len(records) == 0 {
		return New(), nil
	}
	if len(records[0]) != len(csvHeader) || records[0][0] != csvHeader[0] {
		return nil, fmt.Errorf("ledger: %q has unexpected header %v", s.path, records[0])
	}

	led := New()
	for i, rec := range records[1:] {
		bet, err := decodeBet(rec)
		if err != nil {
			return nil, fmt.Errorf("ledger: %q row %d: %w", s.path, i+2, err)
		}
		led.UpsertNew([]core.CandidateBet{bet})
	}
	return led, nil
}

// Save writes the full ledger atomically.
func (s *CSVStore) Save(led *Ledger) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp in %q: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write header: %w", err)
	}
	for _, bet := range led.All() {
		if err := w.Write(encodeBet(bet)); err != nil {
			tmp.Close()
			return fmt.Errorf("ledger: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("ledger: commit %q: %w", s.path, err)
	}
	return nil
}

func encodeBet(b core.CandidateBet) []string {
	pnl := ""
	if b.PnL.Valid {
		pnl = b.PnL.Decimal.String()
	}
	settledAt := ""
	if b.SettledAt != nil {
		settledAt = b.SettledAt.UTC().Format(timeLayout)
	}
	return []string{
		b.ID,
		b.MatchDate.Format(core.DateFormat),
		b.Tournament,
		b.PlayerBacked,
		b.Opponent,
		b.Strategy,
		strconv.FormatFloat(b.OddsTaken, 'f', -1, 64),
		strconv.FormatFloat(b.ModelProb, 'f', -1, 64),
		b.Stake.String(),
		string(b.Status),
		pnl,
		b.CreatedAt.UTC().Format(timeLayout),
		settledAt,
	}
}

func decodeBet(rec []string) (core.CandidateBet, error) {
	var bet core.CandidateBet
	if len(rec) != len(csvHeader) {
		return bet, fmt.Errorf("want %d columns, got %d", len(csvHeader), len(rec))
	}
	matchDate, err := time.Parse(core.DateFormat, rec[1])
	if err != nil {
		return bet, fmt.Errorf("match_date: %w", err)
	}
	oddsTaken, err := strconv.ParseFloat(rec[6], 64)
	if err != nil {
		return bet, fmt.Errorf("odds_taken: %w", err)
	}
	modelProb, err := strconv.ParseFloat(rec[7], 64)
	if err != nil {
		return bet, fmt.Errorf("model_prob: %w", err)
	}
	stake, err := decimal.NewFromString(rec[8])
	if err != nil {
		return bet, fmt.Errorf("stake_fraction: %w", err)
	}
	status := core.BetStatus(rec[9])
	switch status {
	case core.StatusPending, core.StatusWon, core.StatusLost, core.StatusVoid:
	default:
		return bet, fmt.Errorf("unknown status %q", rec[9])
	}
	var pnl decimal.NullDecimal
	if rec[10] != "" {
		d, err := decimal.NewFromString(rec[10])
		if err != nil {
			return bet, fmt.Errorf("pnl: %w", err)
		}
		pnl = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	createdAt, err := time.Parse(timeLayout, rec[11])
	if err != nil {
		return bet, fmt.Errorf("created_at: %w", err)
	}
	var settledAt *time.Time
	if rec[12] != "" {
		t, err := time.Parse(timeLayout, rec[12])
		if err != nil {
			return bet, fmt.Errorf("settled_at: %w", err)
		}
		settledAt = &t
	}
	return core.CandidateBet{
		ID:           rec[0],
		MatchDate:    matchDate,
		Tournament:   rec[2],
		PlayerBacked: rec[3],
		Opponent:     rec[4],
		Strategy:     rec[5],
		OddsTaken:    oddsTaken,
		ModelProb:    modelProb,
		Stake:        stake,
		Status:       status,
		PnL:          pnl,
		CreatedAt:    createdAt,
		SettledAt:    settledAt,
	}, nil
}
