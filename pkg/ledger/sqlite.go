package ledger

// sqlite.go: alternative ledger backend on SQLite (pure Go driver, no CGo).
// Useful once the ledger outgrows a flat file: the renderer can query it
// directly and saves touch only changed rows instead of rewriting the file.
// Commit semantics match the CSV store: everything happens in one
// transaction, so a crashed run leaves the previous state intact.

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/phenomenon0/courtedge/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS bets (
    bet_id         TEXT PRIMARY KEY,
    seq            INTEGER NOT NULL,
    match_date     TEXT NOT NULL,
    tournament     TEXT NOT NULL,
    player_backed  TEXT NOT NULL,
    opponent       TEXT NOT NULL,
    strategy       TEXT NOT NULL,
    odds_taken     REAL NOT NULL,
    model_prob     REAL NOT NULL,
    stake_fraction TEXT NOT NULL,
    status         TEXT NOT NULL,
    pnl            TEXT,
    created_at     TEXT NOT NULL,
    settled_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_bets_status   ON bets(status);
CREATE INDEX IF NOT EXISTS idx_bets_strategy ON bets(strategy);
`

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and applies the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Load reads every bet in insertion order.
func (s *SQLiteStore) Load() (*Ledger, error) {
	rows, err := s.db.Query(`
		SELECT bet_id, match_date, tournament, player_backed, opponent, strategy,
		       odds_taken, model_prob, stake_fraction, status, pnl, created_at, settled_at
		FROM bets ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query bets: %w", err)
	}
	defer rows.Close()

	led := New()
	for rows.Next() {
		var (
			bet                  core.CandidateBet
			matchDate, createdAt string
			stake, status        string
			pnl, settledAt       sql.NullString
		)
		if err := rows.Scan(&bet.ID, &matchDate, &bet.Tournament, &bet.PlayerBacked, &bet.Opponent,
			&bet.Strategy, &bet.OddsTaken, &bet.ModelProb, &stake, &status, &pnl, &createdAt, &settledAt); err != nil {
			return nil, fmt.Errorf("ledger: scan bet: %w", err)
		}
		if bet.MatchDate, err = time.Parse(core.DateFormat, matchDate); err != nil {
			return nil, fmt.Errorf("ledger: bet %s match_date: %w", bet.ID, err)
		}
		if bet.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("ledger: bet %s created_at: %w", bet.ID, err)
		}
		if bet.Stake, err = decimal.NewFromString(stake); err != nil {
			return nil, fmt.Errorf("ledger: bet %s stake: %w", bet.ID, err)
		}
		bet.Status = core.BetStatus(status)
		if pnl.Valid {
			d, err := decimal.NewFromString(pnl.String)
			if err != nil {
				return nil, fmt.Errorf("ledger: bet %s pnl: %w", bet.ID, err)
			}
			bet.PnL = decimal.NullDecimal{Decimal: d, Valid: true}
		}
		if settledAt.Valid {
			t, err := time.Parse(timeLayout, settledAt.String)
			if err != nil {
				return nil, fmt.Errorf("ledger: bet %s settled_at: %w", bet.ID, err)
			}
			bet.SettledAt = &t
		}
		led.UpsertNew([]core.CandidateBet{bet})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate bets: %w", err)
	}
	return led, nil
}

// Save writes the ledger in one transaction. New IDs insert, existing IDs
// update only the settlement columns; identity columns never change after
// the first insert.
func (s *SQLiteStore) Save(led *Ledger) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO bets (bet_id, seq, match_date, tournament, player_backed, opponent, strategy,
		                  odds_taken, model_prob, stake_fraction, status, pnl, created_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bet_id) DO UPDATE SET
			status = excluded.status,
			pnl = excluded.pnl,
			settled_at = excluded.settled_at`)
	if err != nil {
		return fmt.Errorf("ledger: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for seq, bet := range led.All() {
		var pnl, settledAt any
		if bet.PnL.Valid {
			pnl = bet.PnL.Decimal.String()
		}
		if bet.SettledAt != nil {
			settledAt = bet.SettledAt.UTC().Format(timeLayout)
		}
		if _, err := stmt.Exec(bet.ID, seq, bet.MatchDate.Format(core.DateFormat), bet.Tournament,
			bet.PlayerBacked, bet.Opponent, bet.Strategy, bet.OddsTaken, bet.ModelProb,
			bet.Stake.String(), string(bet.Status), pnl, bet.CreatedAt.UTC().Format(timeLayout), settledAt); err != nil {
			return fmt.Errorf("ledger: upsert bet %s: %w", bet.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit save: %w", err)
	}
	return nil
}
