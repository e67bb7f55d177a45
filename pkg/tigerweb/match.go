package tigerweb

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/singerep/censaurus/internal/states"
)

var (
	// abbrPattern matches a standalone state postal abbreviation at a word
	// boundary, e.g. the "MD" in "Baltimore, MD".
	abbrPattern = buildAbbrPattern()

	// leadingZeroPattern matches zero-padding in front of digits, so that
	// "District 07" and "District 7" compare equal.
	leadingZeroPattern = regexp.MustCompile(`(^|\D)0+(\d)`)

	tokenSplitPattern = regexp.MustCompile(`\W+`)

	caseFolder = cases.Fold()
)

func buildAbbrPattern() *regexp.Regexp {
	abbrs := make([]string, 0, len(states.All))
	for _, s := range states.All {
		abbrs = append(abbrs, s.Abbr)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(abbrs, "|") + `)\b`)
}

// parseName normalizes an area name for matching: state abbreviations are
// expanded to full names and leading zeros are stripped from numeric
// tokens.
func parseName(name string) string {
	name = abbrPattern.ReplaceAllStringFunc(name, func(abbr string) string {
		if full, ok := states.NameForAbbr(abbr); ok {
			return full
		}
		return abbr
	})
	return leadingZeroPattern.ReplaceAllString(name, "${1}${2}")
}

// tokenize splits a normalized name into its case-folded word tokens.
func tokenize(name string) []string {
	seen := map[string]bool{}
	var tokens []string
	for _, t := range tokenSplitPattern.Split(name, -1) {
		t = caseFolder.String(t)
		if t != "" && !seen[t] {
			seen[t] = true
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// levenshteinRatio is the normalized similarity of two strings: 1 minus the
// edit distance over the total length.
func levenshteinRatio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - 2*float64(d)/float64(len(a)+len(b)+d)
}

// scorer scores candidate names against a query using IDF-weighted token
// assignment: tokens of the two names are paired up by minimum total edit
// distance, and a token left unpaired costs half its inverse document
// frequency, so that rare tokens missing from the query ("county",
// "township") hurt less than mismatched distinctive tokens.
type scorer struct {
	idf map[string]float64
}

// newScorer builds a scorer from the token counts of the candidate corpus.
func newScorer(counts map[string]int, total int) *scorer {
	idf := make(map[string]float64, len(counts))
	for token, count := range counts {
		idf[token] = math.Log(float64(total) / float64(count))
	}
	return &scorer{idf: idf}
}

func (s *scorer) tokenCost(a, b string) float64 {
	if a == "" || b == "" {
		nonEmpty := a
		if nonEmpty == "" {
			nonEmpty = b
		}
		if w, ok := s.idf[nonEmpty]; ok {
			return w / 2
		}
		return float64(len(nonEmpty))
	}
	return float64(levenshtein.ComputeDistance(a, b))
}

// score returns the similarity of the query and a candidate in [0, 1].
func (s *scorer) score(query, candidate string) float64 {
	qt := tokenize(query)
	ct := tokenize(candidate)

	if len(qt) == 1 && len(ct) == 1 {
		return levenshteinRatio(qt[0], ct[0])
	}

	k := max(len(qt), len(ct))
	for len(qt) < k {
		qt = append(qt, "")
	}
	for len(ct) < k {
		ct = append(ct, "")
	}

	costs := make([][]float64, k)
	for i := range costs {
		costs[i] = make([]float64, k)
		for j := range costs[i] {
			costs[i][j] = s.tokenCost(qt[i], ct[j])
		}
	}
	assigned := assignMinCost(costs)

	var qlen, clen, total float64
	for _, t := range qt {
		qlen += float64(len(t))
	}
	for _, t := range ct {
		clen += float64(len(t))
	}
	for i, j := range assigned {
		total += costs[i][j]
	}
	if qlen+clen+total == 0 {
		return 1
	}
	return 1 - (2*total)/(qlen+clen+total)
}

// assignMinCost solves the square assignment problem, returning for each
// row the column it is paired with. The Hungarian algorithm in O(n^3);
// token sets are tiny so the constant factors are irrelevant.
func assignMinCost(costs [][]float64) []int {
	n := len(costs)
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := 0; j <= n; j++ {
			minv[j] = math.Inf(1)
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := costs[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	result := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			result[p[j]-1] = j - 1
		}
	}
	return result
}

// match pairs a candidate GEOID and display name with its score.
type match struct {
	geoID string
	name  string
	score float64
}

// rankMatches scores every candidate against the query and returns those at
// or above the cutoff, best first.
func rankMatches(query string, candidates map[string]string, s *scorer, cutoff float64) []match {
	var matches []match
	for geoID, name := range candidates {
		sc := s.score(query, name)
		if sc >= cutoff {
			matches = append(matches, match{geoID: geoID, name: name, score: sc})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].geoID < matches[j].geoID
	})
	return matches
}

// AmbiguousNameError reports a name query that matched several candidates
// too closely to pick one.
type AmbiguousNameError struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("tigerweb: name %q is ambiguous; candidates: %s",
		e.Query, strings.Join(e.Candidates, "; "))
}

// NoMatchError reports a name or GEOID with no acceptable match in a layer.
type NoMatchError struct {
	Query    string
	Layer    string
	Examples []string
}

func (e *NoMatchError) Error() string {
	msg := fmt.Sprintf("tigerweb: %q has no match in layer %q", e.Query, e.Layer)
	if len(e.Examples) > 0 {
		msg += "; examples: " + strings.Join(e.Examples, "; ")
	}
	return msg
}
