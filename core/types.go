// Package core provides the shared domain types for the betting pipeline:
// daily snapshot records, merged comparison rows, candidate bets and match
// results. All cross-package contracts are expressed in these types.
package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateFormat is the civil date layout used in keys, filenames and CSV cells.
const DateFormat = "2006-01-02"

// ProbabilityRecord is one row of the model-derived win-probability snapshot.
// Probabilities are fractions in (0,1) and sum to 1 for the two outcomes.
type ProbabilityRecord struct {
	Tournament string    `json:"tournament"`
	PlayerA    string    `json:"player_a"`
	PlayerB    string    `json:"player_b"`
	ProbA      float64   `json:"prob_a"`
	ProbB      float64   `json:"prob_b"`
	SourceTime time.Time `json:"source_time"`
}

// OddsRecord is one row of the bookmaker odds snapshot. Odds are decimal
// (European) odds, strictly greater than 1.
type OddsRecord struct {
	Tournament string    `json:"tournament"`
	PlayerA    string    `json:"player_a"`
	PlayerB    string    `json:"player_b"`
	OddsA      float64   `json:"odds_a"`
	OddsB      float64   `json:"odds_b"`
	SourceTime time.Time `json:"source_time"`
}

// ComparisonRow joins one probability record to one odds record for the same
// match. It is immutable once computed for a given day.
//
// ImpliedA/B are raw 1/odds; the bookmaker vig is not removed, so the two
// implied probabilities sum to slightly more than 1.
type ComparisonRow struct {
	MatchDate  time.Time `json:"match_date"`
	Tournament string    `json:"tournament"`
	PlayerA    string    `json:"player_a"`
	PlayerB    string    `json:"player_b"`

	// Canonical join keys produced by the entity matcher.
	TournamentKey string `json:"tournament_key"`
	PlayerAKey    string `json:"player_a_key"`
	PlayerBKey    string `json:"player_b_key"`

	ProbA float64 `json:"prob_a"`
	ProbB float64 `json:"prob_b"`
	OddsA float64 `json:"odds_a"`
	OddsB float64 `json:"odds_b"`

	ImpliedA float64 `json:"implied_a"`
	ImpliedB float64 `json:"implied_b"`
	SpreadA  float64 `json:"spread_a"`
	SpreadB  float64 `json:"spread_b"`
}

// MatchKey returns the canonical identity of the underlying match:
// date_tournament_sortedPlayerKeys. Player keys are sorted so both
// orientations of the same fixture produce the same key.
func (r ComparisonRow) MatchKey() string {
	return MatchKey(r.MatchDate, r.TournamentKey, r.PlayerAKey, r.PlayerBKey)
}

// MatchKey builds the canonical match identity from its parts.
func MatchKey(date time.Time, tournamentKey, playerKeyA, playerKeyB string) string {
	players := []string{playerKeyA, playerKeyB}
	sort.Strings(players)
	return date.Format(DateFormat) + "_" + tournamentKey + "_" + strings.Join(players, "_")
}

// Side identifies which player of a comparison row a bet backs.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// BetStatus is the lifecycle state of a candidate bet. A bet is created
// PENDING and transitions exactly once to a terminal status.
type BetStatus string

const (
	StatusPending BetStatus = "PENDING"
	StatusWon     BetStatus = "WON"
	StatusLost    BetStatus = "LOST"
	StatusVoid    BetStatus = "VOID"
)

// Terminal reports whether the status is final.
func (s BetStatus) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusVoid
}

// betNamespace scopes the deterministic bet IDs. Generated once, fixed
// forever: changing it would re-key every historical ledger entry.
var betNamespace = uuid.MustParse("f1db12a4-73c2-4f84-9f95-2f6b0f6f9d41")

// BetID derives the deterministic identifier for a bet from its match
// identity, strategy name and side. Identical inputs always produce the same
// ID, so a re-run of the same day cannot mint a second ID for the same bet.
func BetID(matchKey, strategy string, side Side) string {
	return uuid.NewSHA1(betNamespace, []byte(matchKey+"|"+strategy+"|"+side.String())).String()
}

// CandidateBet is a hypothetical wager identified by a strategy, tracked in
// the ledger from creation through settlement.
type CandidateBet struct {
	ID           string              `json:"id"`
	MatchDate    time.Time           `json:"match_date"`
	Tournament   string              `json:"tournament"`
	PlayerBacked string              `json:"player_backed"`
	Opponent     string              `json:"opponent"`
	Strategy     string              `json:"strategy"`
	OddsTaken    float64             `json:"odds_taken"`
	ModelProb    float64             `json:"model_prob"`
	Stake        decimal.Decimal     `json:"stake_fraction"`
	Status       BetStatus           `json:"status"`
	PnL          decimal.NullDecimal `json:"pnl"`
	CreatedAt    time.Time           `json:"created_at"`
	SettledAt    *time.Time          `json:"settled_at,omitempty"`
}

func (b CandidateBet) String() string {
	return fmt.Sprintf("%s %s: %s vs %s @ %.2f (%s)",
		b.Strategy, b.MatchDate.Format(DateFormat), b.PlayerBacked, b.Opponent, b.OddsTaken, b.Status)
}

// MatchResult is one row of the asynchronous results snapshot. The result
// date is the date the match was played, taken from the snapshot filename.
type MatchResult struct {
	Tournament string    `json:"tournament"`
	Winner     string    `json:"winner"`
	Loser      string    `json:"loser"`
	Score      string    `json:"score"`
	ResultDate time.Time `json:"result_date"`
}
