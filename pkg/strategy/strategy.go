// Package strategy evaluates configured betting rules over comparison rows
// and emits candidate bets with deterministic IDs. Each strategy is a tagged
// variant (kind + parameters) handled by a single dispatch per kind; adding a
// strategy means adding a kind constant and a case, not a new type.
package strategy

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/courtedge/core"
)

// Kind tags a strategy rule variant.
type Kind string

const (
	// KindProbDiff fires on either side whose spread clears a minimum.
	KindProbDiff Kind = "PROB_DIFF_THRESHOLD"
	// KindMaxSpread fires at most once per match, on the side with the
	// single largest positive spread, if it clears a floor.
	KindMaxSpread Kind = "MAX_POSITIVE_SPREAD"
	// KindKelly sizes a fractional-Kelly stake and fires when the full
	// Kelly fraction is positive.
	KindKelly Kind = "FRACTIONAL_KELLY"
)

// Params carries the union of per-kind parameters. Only the fields relevant
// to the configured kind are read.
type Params struct {
	MinSpread  float64 `yaml:"min_spread"`  // PROB_DIFF_THRESHOLD
	Floor      float64 `yaml:"floor"`       // MAX_POSITIVE_SPREAD
	Multiplier float64 `yaml:"multiplier"`  // FRACTIONAL_KELLY
	MaxStake   float64 `yaml:"max_stake"`   // FRACTIONAL_KELLY stake cap
	FlatStake  float64 `yaml:"flat_stake"`  // non-Kelly stake, default 1.0
}

// Config is one named strategy descriptor.
type Config struct {
	Name   string `yaml:"name"`
	Kind   Kind   `yaml:"kind"`
	Params Params `yaml:"params"`
}

// Validate checks the descriptor is complete enough to evaluate.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy with empty name")
	}
	switch c.Kind {
	case KindProbDiff, KindMaxSpread:
	case KindKelly:
		if c.Params.Multiplier <= 0 {
			return fmt.Errorf("strategy %q: kelly multiplier must be positive", c.Name)
		}
	default:
		return fmt.Errorf("strategy %q: unknown kind %q", c.Name, c.Kind)
	}
	return nil
}

// DefaultConfigs returns the stock strategy set.
func DefaultConfigs() []Config {
	return []Config{
		{Name: "S1_ProbDiff", Kind: KindProbDiff, Params: Params{MinSpread: 0.05}},
		{Name: "S2_MaxSpread", Kind: KindMaxSpread, Params: Params{Floor: 0}},
		{Name: "S3_Kelly", Kind: KindKelly, Params: Params{Multiplier: 0.25, MaxStake: 0.10}},
	}
}

// Engine evaluates an ordered strategy list over comparison rows.
type Engine struct {
	configs []Config
}

// NewEngine validates the descriptors and builds an engine.
func NewEngine(configs []Config) (*Engine, error) {
	if len(configs) == 0 {
		configs = DefaultConfigs()
	}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return &Engine{configs: configs}, nil
}

// Result is one evaluation pass: new candidates plus the count of IDs that
// already existed and were skipped. Skipping duplicates here is half of the
// idempotence story; the ledger's upsert is the other half.
type Result struct {
	Candidates []core.CandidateBet
	SkippedDup int
}

// Evaluate runs every strategy over every row, in config order then row
// order. exists reports whether a bet ID is already in the ledger; createdAt
// is stamped on new candidates (never used for identity).
func (e *Engine) Evaluate(rows []core.ComparisonRow, exists func(id string) bool, createdAt time.Time) Result {
	var res Result
	for _, cfg := range e.configs {
		for _, bet := range e.evaluateOne(cfg, rows, createdAt) {
			if exists != nil && exists(bet.ID) {
				res.SkippedDup++
				continue
			}
			res.Candidates = append(res.Candidates, bet)
		}
	}
	return res
}

func (e *Engine) evaluateOne(cfg Config, rows []core.ComparisonRow, createdAt time.Time) []core.CandidateBet {
	var bets []core.CandidateBet
	for _, row := range rows {
		switch cfg.Kind {
		case KindProbDiff:
			if row.SpreadA >= cfg.Params.MinSpread {
				bets = append(bets, newBet(cfg, row, core.SideA, flatStake(cfg), createdAt))
			}
			if row.SpreadB >= cfg.Params.MinSpread {
				bets = append(bets, newBet(cfg, row, core.SideB, flatStake(cfg), createdAt))
			}

		case KindMaxSpread:
			side, spread := bestSide(row)
			if spread > cfg.Params.Floor && spread > 0 {
				bets = append(bets, newBet(cfg, row, side, flatStake(cfg), createdAt))
			}

		case KindKelly:
			for _, side := range []core.Side{core.SideA, core.SideB} {
				prob, odds := sideValues(row, side)
				f := Kelly(prob, odds)
				if f <= 0 {
					continue
				}
				stake := cfg.Params.Multiplier * f
				if cfg.Params.MaxStake > 0 && stake > cfg.Params.MaxStake {
					stake = cfg.Params.MaxStake
				}
				bets = append(bets, newBet(cfg, row, side, decimal.NewFromFloat(stake).Round(4), createdAt))
			}
		}
	}
	if len(bets) > 0 {
		log.Printf("[strategy] %s identified %d candidate bets", cfg.Name, len(bets))
	}
	return bets
}

// Kelly returns the full Kelly fraction f* = (p(o-1) - (1-p)) / (o-1) for
// backing at decimal odds o with model probability p. Non-positive when the
// bet has no edge; zero when odds are not strictly greater than 1.
func Kelly(prob, odds float64) float64 {
	if odds <= 1 {
		return 0
	}
	b := odds - 1
	return (prob*b - (1 - prob)) / b
}

// bestSide picks the side with the larger spread. On an exact tie side A
// wins, which keeps the choice deterministic.
func bestSide(row core.ComparisonRow) (core.Side, float64) {
	if row.SpreadB > row.SpreadA {
		return core.SideB, row.SpreadB
	}
	return core.SideA, row.SpreadA
}

func sideValues(row core.ComparisonRow, side core.Side) (prob, odds float64) {
	if side == core.SideA {
		return row.ProbA, row.OddsA
	}
	return row.ProbB, row.OddsB
}

func flatStake(cfg Config) decimal.Decimal {
	if cfg.Params.FlatStake > 0 {
		return decimal.NewFromFloat(cfg.Params.FlatStake)
	}
	return decimal.NewFromInt(1)
}

func newBet(cfg Config, row core.ComparisonRow, side core.Side, stake decimal.Decimal, createdAt time.Time) core.CandidateBet {
	prob, odds := sideValues(row, side)
	backed, opponent := row.PlayerA, row.PlayerB
	if side == core.SideB {
		backed, opponent = row.PlayerB, row.PlayerA
	}
	return core.CandidateBet{
		ID:           core.BetID(row.MatchKey(), cfg.Name, side),
		MatchDate:    row.MatchDate,
		Tournament:   row.Tournament,
		PlayerBacked: backed,
		Opponent:     opponent,
		Strategy:     cfg.Name,
		OddsTaken:    odds,
		ModelProb:    prob,
		Stake:        stake,
		Status:       core.StatusPending,
		CreatedAt:    createdAt,
	}
}
