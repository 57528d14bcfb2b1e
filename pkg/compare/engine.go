// Package compare merges the probability and odds snapshots for one day into
// comparison rows carrying implied probabilities and spreads.
package compare

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/match"
)

// qualifierMarker flags placeholder entries the model feed emits before a
// qualifying round has produced a real opponent.
const qualifierMarker = "qualifier"

// Engine joins the two snapshot tables through the entity matcher.
type Engine struct {
	matcher *match.Matcher
}

// NewEngine creates a comparison engine over the given matcher.
func NewEngine(matcher *match.Matcher) *Engine {
	return &Engine{matcher: matcher}
}

// Result is the output of one merge: the joined rows plus the drop counts
// for run diagnostics. Rows present in only one source are not errors.
type Result struct {
	Rows []core.ComparisonRow

	Matched      int // rows joined across both sources
	ProbOnly     int // probability rows with no odds counterpart
	OddsOnly     int // odds rows with no probability counterpart
	InvalidProb  int // probability rows outside (0,1) or with qualifiers
	InvalidOdds  int // odds rows with odds <= 1
	FuzzyMatched int // joins that needed the similarity fallback
}

// oddsEntry is an odds record indexed under its canonical pair key.
type oddsEntry struct {
	rec     core.OddsRecord
	keyA    string // canonical key of rec.PlayerA
	keyB    string
	claimed bool
}

// Merge joins one probability table to one odds table for the given match
// date. The join key is (tournament key, unordered player pair). Implied
// probability is raw 1/odds; the vig is intentionally not removed, so
// spreads are slightly pessimistic but consistent across days.
//
// The output is sorted by (tournament key, player keys) so identical inputs
// produce byte-identical tables.
func (e *Engine) Merge(matchDate time.Time, probs []core.ProbabilityRecord, odds []core.OddsRecord) Result {
	var res Result

	index := make(map[string]*oddsEntry, len(odds))
	for _, o := range odds {
		if o.OddsA <= 1.0 || o.OddsB <= 1.0 {
			res.InvalidOdds++
			log.Printf("[compare] invalid odds dropped: %s vs %s (%.2f / %.2f)", o.PlayerA, o.PlayerB, o.OddsA, o.OddsB)
			continue
		}
		keyA := e.matcher.PlayerKey(o.PlayerA)
		keyB := e.matcher.PlayerKey(o.PlayerB)
		index[pairKey(e.matcher.TournamentKey(o.Tournament), keyA, keyB)] = &oddsEntry{rec: o, keyA: keyA, keyB: keyB}
	}

	for _, p := range probs {
		if !validProbs(p) {
			res.InvalidProb++
			log.Printf("[compare] invalid probability row dropped: %s vs %s (%.3f / %.3f)", p.PlayerA, p.PlayerB, p.ProbA, p.ProbB)
			continue
		}
		tkey := e.matcher.TournamentKey(p.Tournament)
		keyA := e.matcher.PlayerKey(p.PlayerA)
		keyB := e.matcher.PlayerKey(p.PlayerB)

		entry, fuzzy := e.lookup(index, tkey, keyA, keyB)
		if entry == nil {
			res.ProbOnly++
			log.Printf("[compare] no odds match for %s vs %s (%s)", p.PlayerA, p.PlayerB, p.Tournament)
			continue
		}
		entry.claimed = true
		res.Matched++
		if fuzzy {
			res.FuzzyMatched++
		}

		// Orient the odds to the probability row's player order. For
		// fuzzy joins the keys are not equal, so orientation is decided
		// by which odds-side player is more similar to player A.
		oddsA, oddsB := entry.rec.OddsA, entry.rec.OddsB
		if match.Similarity(keyA, entry.keyA) < match.Similarity(keyA, entry.keyB) {
			oddsA, oddsB = oddsB, oddsA
		}

		impliedA := 1 / oddsA
		impliedB := 1 / oddsB
		res.Rows = append(res.Rows, core.ComparisonRow{
			MatchDate:     matchDate,
			Tournament:    e.matcher.DisplayTournament(p.Tournament),
			PlayerA:       e.matcher.DisplayName(p.PlayerA),
			PlayerB:       e.matcher.DisplayName(p.PlayerB),
			TournamentKey: tkey,
			PlayerAKey:    keyA,
			PlayerBKey:    keyB,
			ProbA:         p.ProbA,
			ProbB:         p.ProbB,
			OddsA:         oddsA,
			OddsB:         oddsB,
			ImpliedA:      impliedA,
			ImpliedB:      impliedB,
			SpreadA:       p.ProbA - impliedA,
			SpreadB:       p.ProbB - impliedB,
		})
	}

	for _, entry := range index {
		if !entry.claimed {
			res.OddsOnly++
		}
	}

	sort.Slice(res.Rows, func(i, j int) bool {
		a, b := res.Rows[i], res.Rows[j]
		if a.TournamentKey != b.TournamentKey {
			return a.TournamentKey < b.TournamentKey
		}
		if a.PlayerAKey != b.PlayerAKey {
			return a.PlayerAKey < b.PlayerAKey
		}
		return a.PlayerBKey < b.PlayerBKey
	})
	return res
}

// lookup finds the odds entry for a probability row: exact pair key first,
// then a similarity pass over entries in the same tournament. The fallback
// handles spelling drift ("Alex de Minaur" vs "Alexander De Minaur") that
// survives normalization. Claimed entries are never returned, so a
// duplicated probability row cannot join the same odds row twice.
func (e *Engine) lookup(index map[string]*oddsEntry, tkey, keyA, keyB string) (*oddsEntry, bool) {
	if entry, ok := index[pairKey(tkey, keyA, keyB)]; ok && !entry.claimed {
		return entry, false
	}

	// Candidates are compared as unordered player-pair token strings; the
	// tournament must already agree. On a pair-string collision the smaller
	// index key wins so the fallback stays deterministic.
	byPair := make(map[string]string)
	candidates := make([]string, 0, len(index))
	for k, entry := range index {
		if entry.claimed || e.matcher.TournamentKey(entry.rec.Tournament) != tkey {
			continue
		}
		pair := pairString(entry.keyA, entry.keyB)
		if prev, ok := byPair[pair]; !ok || k < prev {
			byPair[pair] = k
		}
		candidates = append(candidates, pair)
	}
	if resolved, ok := e.matcher.Resolve(pairString(keyA, keyB), candidates); ok {
		return index[byPair[resolved]], true
	}
	return nil, false
}

// pairString joins a player pair into one token string for similarity
// scoring, sorted so orientation does not matter.
func pairString(keyA, keyB string) string {
	if keyB < keyA {
		keyA, keyB = keyB, keyA
	}
	return keyA + " " + keyB
}

func validProbs(p core.ProbabilityRecord) bool {
	if p.ProbA <= 0 || p.ProbA >= 1 || p.ProbB <= 0 || p.ProbB >= 1 {
		return false
	}
	if strings.Contains(strings.ToLower(p.PlayerA), qualifierMarker) ||
		strings.Contains(strings.ToLower(p.PlayerB), qualifierMarker) {
		return false
	}
	return true
}

// pairKey builds the unordered join key for a tournament and player pair.
func pairKey(tkey, keyA, keyB string) string {
	if keyB < keyA {
		keyA, keyB = keyB, keyA
	}
	return tkey + "|" + keyA + "|" + keyB
}
