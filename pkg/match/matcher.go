// Package match resolves player and tournament names across the probability
// and odds feeds, which spell the same entities differently ("Federer, Roger"
// vs "Roger Federer", sponsor names for the same tournament, and so on).
//
// Resolution is a pure normalization pipeline plus a similarity fallback.
// Given identical inputs the output is byte-identical across runs: there is
// no randomized tie-breaking anywhere.
package match

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinSimilarity is the fallback-resolution threshold used when the
// config does not set one.
const DefaultMinSimilarity = 0.85

var (
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9 ]+`)

	// Noise fragments stripped from tournament names before keying. The
	// odds feed prefixes everything with "Tennis - " and both feeds decorate
	// events with tour level and qualifying markers.
	tournamentNoise = []string{
		"tennis - ", ", qualifying", " qualifying", "atp ", " atp", "wta ", " wta", "challenger ", " challenger",
	}
)

// Config tunes the matcher. Alias maps go from a normalized variant key to
// the canonical key it should resolve to.
type Config struct {
	MinSimilarity      float64
	PlayerAliases      map[string]string
	TournamentSynonyms map[string]string
}

// Matcher normalizes raw names into canonical keys and resolves near-miss
// keys against a candidate set.
type Matcher struct {
	minSimilarity      float64
	playerAliases      map[string]string
	tournamentSynonyms map[string]string
}

// New builds a Matcher. Alias keys and values in cfg may be raw names; they
// are normalized here so config files can use natural spelling.
func New(cfg Config) *Matcher {
	m := &Matcher{
		minSimilarity:      cfg.MinSimilarity,
		playerAliases:      make(map[string]string, len(cfg.PlayerAliases)),
		tournamentSynonyms: make(map[string]string, len(cfg.TournamentSynonyms)),
	}
	if m.minSimilarity <= 0 {
		m.minSimilarity = DefaultMinSimilarity
	}
	for from, to := range cfg.PlayerAliases {
		m.playerAliases[normalize(reorderComma(from))] = normalize(reorderComma(to))
	}
	for from, to := range cfg.TournamentSynonyms {
		m.tournamentSynonyms[normalizeTournament(from)] = normalizeTournament(to)
	}
	return m
}

// PlayerKey produces the canonical key for a raw player name from either
// feed. "Federer, Roger" and "roger federer" map to the same key.
func (m *Matcher) PlayerKey(raw string) string {
	key := normalize(reorderComma(raw))
	if canonical, ok := m.playerAliases[key]; ok {
		return canonical
	}
	return key
}

// DisplayName cleans a raw player name for output tables without collapsing
// it to a key: comma order fixed, country codes and markers removed, title
// cased.
func (m *Matcher) DisplayName(raw string) string {
	name := reorderComma(raw)
	name = parenthetical.ReplaceAllString(name, "")
	name = strings.Trim(name, "* ")
	name = strings.Join(strings.Fields(name), " ")
	return title(name)
}

// DisplayTournament cleans a raw tournament name for output tables. Unlike
// player names there is no comma reorder and no parenthetical strip: commas
// and parentheses are part of the event name, not ordering or country
// markers. TournamentKey(DisplayTournament(raw)) == TournamentKey(raw), so
// keys re-derived from persisted tables stay joinable with the raw feeds.
func (m *Matcher) DisplayTournament(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// TournamentKey produces the canonical key for a tournament name, applying
// the synonym table for events that run under different sponsor names.
func (m *Matcher) TournamentKey(raw string) string {
	key := normalizeTournament(raw)
	if canonical, ok := m.tournamentSynonyms[key]; ok {
		return canonical
	}
	return key
}

// Resolve finds the candidate key matching target. An exact hit wins; else
// the best candidate with similarity >= the threshold wins. Ties between
// equal-score candidates break by lexicographic order of the candidate key,
// so resolution is deterministic. ok is false when nothing clears the bar.
func (m *Matcher) Resolve(target string, candidates []string) (best string, ok bool) {
	bestScore := 0.0
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		if c == target {
			return c, true
		}
		if s := Similarity(target, c); s > bestScore {
			bestScore, best = s, c
		}
	}
	if bestScore >= m.minSimilarity {
		return best, true
	}
	return "", false
}

// Similarity scores two canonical keys in [0,1] using token-set overlap
// (Dice coefficient). Token order does not matter, so "novak djokovic" and
// "djokovic novak" score 1.
func Similarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	common := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			common++
		}
	}
	return 2 * float64(common) / float64(len(ta)+len(tb))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// reorderComma turns "Lastname, Firstname" into "Firstname Lastname".
func reorderComma(name string) string {
	if !strings.Contains(name, ",") {
		return name
	}
	parts := strings.SplitN(name, ",", 2)
	if len(parts) != 2 {
		return name
	}
	return strings.TrimSpace(parts[1]) + " " + strings.TrimSpace(parts[0])
}

// normalize lowercases, folds diacritics, drops country codes and
// punctuation, and collapses whitespace. The result is the canonical key:
// lowercase ASCII tokens joined by single spaces.
func normalize(name string) string {
	name = parenthetical.ReplaceAllString(name, "")
	name = strings.Trim(name, "* ")
	name = strings.ToLower(name)
	name = foldDiacritics(name)
	name = nonAlnum.ReplaceAllString(name, " ")
	return strings.Join(strings.Fields(name), " ")
}

func normalizeTournament(raw string) string {
	key := strings.ToLower(raw)
	key = foldDiacritics(key)
	for _, noise := range tournamentNoise {
		key = strings.ReplaceAll(key, noise, " ")
	}
	key = nonAlnum.ReplaceAllString(key, " ")
	return strings.Join(strings.Fields(key), " ")
}

// foldDiacritics removes combining marks: "Björn" -> "Bjorn".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// title uppercases the first letter of each word. strings.Title is
// deprecated and cases.Title lowercases the rest of each word, which would
// mangle names like "de Minaur"; this only touches the first rune.
func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
