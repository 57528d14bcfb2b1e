// Package settle reconciles pending ledger entries against match results and
// produces the per-strategy daily summary. Results arrive asynchronously,
// sometimes days after the bet was identified, so settlement must tolerate
// repeated, partially overlapping runs.
package settle

import (
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/ledger"
	"github.com/phenomenon0/courtedge/pkg/match"
)

// DefaultGraceDays is how long a pending bet may wait for a result before it
// is voided, when the config does not set a window.
const DefaultGraceDays = 5

// Engine settles pending bets against results.
type Engine struct {
	matcher   *match.Matcher
	graceDays int
}

// NewEngine builds a settlement engine. graceDays <= 0 selects the default.
func NewEngine(matcher *match.Matcher, graceDays int) *Engine {
	if graceDays <= 0 {
		graceDays = DefaultGraceDays
	}
	return &Engine{matcher: matcher, graceDays: graceDays}
}

// Outcome reports one settlement pass.
type Outcome struct {
	Won, Lost, Void int
	StillPending    int
	Skipped         int // invalid transitions logged and skipped
}

// Settled returns the number of bets resolved in this pass.
func (o Outcome) Settled() int { return o.Won + o.Lost + o.Void }

// resultEntry is a match result indexed by canonical match key.
type resultEntry struct {
	winnerKey string
	loserKey  string
}

// Settle resolves every pending ledger entry that has a matching result,
// voids entries whose match date has passed the grace window with no result,
// and leaves the rest pending. Profit is stake*(odds-1) on a win, -stake on
// a loss, zero on a void.
//
// Settlement mutates the ledger in memory only; the caller commits it.
func (e *Engine) Settle(led *ledger.Ledger, results []core.MatchResult, today time.Time) Outcome {
	index := make(map[string]resultEntry, len(results))
	for _, r := range results {
		winnerKey := e.matcher.PlayerKey(r.Winner)
		loserKey := e.matcher.PlayerKey(r.Loser)
		key := core.MatchKey(r.ResultDate, e.matcher.TournamentKey(r.Tournament), winnerKey, loserKey)
		index[key] = resultEntry{winnerKey: winnerKey, loserKey: loserKey}
	}

	var out Outcome
	for _, bet := range led.Pending() {
		backedKey := e.matcher.PlayerKey(bet.PlayerBacked)
		opponentKey := e.matcher.PlayerKey(bet.Opponent)
		key := core.MatchKey(bet.MatchDate, e.matcher.TournamentKey(bet.Tournament), backedKey, opponentKey)

		res, found := index[key]
		if !found {
			if e.pastGrace(bet.MatchDate, today) {
				if e.mark(led, bet.ID, core.StatusVoid, decimal.Zero, today, &out) {
					out.Void++
					log.Printf("[settle] VOID %s: no result within %d days", bet, e.graceDays)
				}
			} else {
				out.StillPending++
			}
			continue
		}

		switch backedKey {
		case res.winnerKey:
			profit := bet.Stake.Mul(decimal.NewFromFloat(bet.OddsTaken).Sub(decimal.NewFromInt(1))).Round(4)
			if e.mark(led, bet.ID, core.StatusWon, profit, today, &out) {
				out.Won++
			}
		case res.loserKey:
			if e.mark(led, bet.ID, core.StatusLost, bet.Stake.Neg(), today, &out) {
				out.Lost++
			}
		default:
			// Key matched but neither player matches the winner, so the
			// result row is inconsistent. Leave the bet pending.
			out.StillPending++
			log.Printf("[settle] result name mismatch for %s: winner key %q", bet, res.winnerKey)
		}
	}
	return out
}

func (e *Engine) pastGrace(matchDate, today time.Time) bool {
	return today.Sub(matchDate) > time.Duration(e.graceDays)*24*time.Hour
}

// mark applies the transition and absorbs transition failures: a bad
// settlement attempt is fatal to that bet only, never to the run.
func (e *Engine) mark(led *ledger.Ledger, id string, status core.BetStatus, pnl decimal.Decimal, at time.Time, out *Outcome) bool {
	if err := led.MarkSettled(id, status, pnl, at); err != nil {
		out.Skipped++
		log.Printf("[settle] skipped: %v", err)
		return false
	}
	return true
}
