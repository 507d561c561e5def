package fuzzy

import (
	"sort"
	"strings"
	"unicode"
)

// Thresholds used by callers. Destructive operations demand a stronger match
// than plain searches.
const (
	DestructiveThreshold = 0.5
	SearchThreshold      = 0.45

	// MinLead is the score gap over the runner-up required to auto-pick a
	// winner instead of asking the user to disambiguate.
	MinLead = 0.15
)

// Match is a scored candidate. Index refers to the caller's candidate slice.
type Match struct {
	Candidate string
	Index     int
	Score     float64
}

var hebrewStopWords = map[string]struct{}{
	"את": {}, "עם": {}, "של": {}, "ביום": {}, "לשעה": {},
	// prefixed forms of the particles
	"בעם": {}, "לאת": {}, "ושל": {},
}

var englishStopWords = map[string]struct{}{
	"the": {}, "a": {}, "with": {}, "for": {}, "to": {}, "in": {}, "on": {},
}

var hebrewPrefixes = map[rune]struct{}{
	'ל': {}, 'ב': {}, 'ה': {}, 'ו': {}, 'מ': {}, 'כ': {}, 'ש': {},
}

// Normalize lowercases, strips punctuation (including Hebrew geresh/gershayim)
// and collapses whitespace runs to a single space.
func Normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '׳' || r == '״':
			// Hebrew punctuation, drop
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenSet splits a normalized string into comparison tokens: short tokens and
// stop words are dropped, and a single-letter Hebrew prefix is stripped.
func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		runes := []rune(tok)
		if len(runes) < 2 {
			continue
		}
		if _, stop := hebrewStopWords[tok]; stop {
			continue
		}
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		if _, isPrefix := hebrewPrefixes[runes[0]]; isPrefix && len(runes) > 2 {
			stripped := string(runes[1:])
			if _, stop := hebrewStopWords[stripped]; !stop {
				tok = stripped
			}
		}
		set[tok] = struct{}{}
	}
	return set
}

// Score computes the similarity between query and candidate in [0,1].
// The result is deterministic for the same inputs.
func Score(query, candidate string) float64 {
	q := Normalize(query)
	c := Normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 1.0
	}
	if strings.Contains(c, q) || strings.Contains(q, c) {
		return 0.9
	}

	qt := tokenSet(q)
	ct := tokenSet(c)
	if len(qt) == 0 || len(ct) == 0 {
		return 0
	}
	inter := 0
	for t := range qt {
		if _, ok := ct[t]; ok {
			inter++
		}
	}
	union := len(qt) + len(ct) - inter
	jaccard := float64(inter) / float64(union)
	if jaccard >= 0.5 {
		return 0.7 + 0.2*jaccard
	}
	return 0
}

// Rank scores every candidate and returns the non-zero matches sorted by
// score descending. Ties keep the original candidate order.
func Rank(query string, candidates []string) []Match {
	var matches []Match
	for i, c := range candidates {
		if s := Score(query, c); s > 0 {
			matches = append(matches, Match{Candidate: c, Index: i, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Resolve picks a single winner above threshold. When several candidates pass
// the threshold and the best does not lead the runner-up by MinLead, the full
// passing list is returned instead and ok is false: the caller should ask the
// user to disambiguate.
func Resolve(query string, candidates []string, threshold float64) (best Match, ambiguous []Match, ok bool) {
	matches := Rank(query, candidates)
	var passing []Match
	for _, m := range matches {
		if m.Score >= threshold {
			passing = append(passing, m)
		}
	}
	switch {
	case len(passing) == 0:
		return Match{}, nil, false
	case len(passing) == 1:
		return passing[0], nil, true
	case passing[0].Score-passing[1].Score >= MinLead:
		return passing[0], nil, true
	default:
		return Match{}, passing, false
	}
}
