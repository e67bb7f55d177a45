// Package clean reshapes query results into analysis-ready tables: column
// renaming driven by variable label paths, regrouping of sibling columns
// into new buckets, and recoding of state identifier columns.
package clean

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/singerep/censaurus/pkg/census"
)

// TokenFunc rewrites one path token. Returning "" drops the token.
type TokenFunc func(string) string

// MatchFunc rewrites a token given one regex match within it. groups holds
// the named submatches; groups[""] is the whole match. Returning "" drops
// the token.
type MatchFunc func(token string, groups map[string]string) string

// Rule pairs a pattern with a rewrite applied to every match in a token.
type Rule struct {
	Pattern *regexp.Regexp
	Apply   MatchFunc
}

// Renamer turns variable label paths into column names: tokens are joined
// with Separator after passing through replacements, the matching rules and
// the default token function.
type Renamer struct {
	Separator string

	// Default runs on every token not covered by Replacements. Nil keeps
	// tokens as-is.
	Default TokenFunc

	// Replacements substitutes whole tokens, bypassing rules and Default.
	Replacements map[string]string

	// Rules run in order on each token; each rule rewrites every match of
	// its pattern.
	Rules []Rule

	// GroupPrefixes overrides the concept prefix for variables of the named
	// groups.
	GroupPrefixes map[string]string
}

// NewRenamer creates a Renamer with the default "|" separator.
func NewRenamer() *Renamer {
	return &Renamer{
		Separator:     "|",
		Replacements:  map[string]string{},
		GroupPrefixes: map[string]string{},
	}
}

// AddGroupPrefixes registers additional group prefixes.
func (r *Renamer) AddGroupPrefixes(prefixes map[string]string) {
	if r.GroupPrefixes == nil {
		r.GroupPrefixes = map[string]string{}
	}
	for g, p := range prefixes {
		r.GroupPrefixes[g] = p
	}
}

// RenameVariable builds the column name for one variable.
func (r *Renamer) RenameVariable(v *census.Variable) string {
	tokens := append([]string{}, v.Path...)
	if v.Group != "" {
		if v.Concept != "" && len(tokens) > 0 {
			tokens = tokens[1:]
		}
		prefix := v.Concept
		if p, ok := r.GroupPrefixes[v.Group]; ok {
			prefix = p
		}
		tokens = append([]string{prefix}, tokens...)
	}

	for i, token := range tokens {
		if replaced, ok := r.Replacements[token]; ok {
			tokens[i] = replaced
			continue
		}
		for _, rule := range r.Rules {
			if token == "" {
				break
			}
			token = applyRule(rule, token)
		}
		if r.Default != nil && token != "" {
			token = r.Default(token)
		}
		tokens[i] = token
	}

	kept := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			kept = append(kept, t)
		}
	}
	sep := r.Separator
	if sep == "" {
		sep = "|"
	}
	return strings.Join(kept, sep)
}

// Rename renames every column of the table that carries a variable
// binding. Unbound columns (NAME, GEO_ID and raw geography columns) keep
// their names.
func (r *Renamer) Rename(t *census.Table) error {
	for _, col := range t.Columns() {
		v := t.Variable(col)
		if v == nil {
			continue
		}
		renamed := r.RenameVariable(v)
		if renamed == col {
			continue
		}
		if err := t.RenameColumn(col, renamed); err != nil {
			return err
		}
	}
	zap.L().Debug("renamed columns", zap.Int("columns", len(t.Columns())))
	return nil
}

// applyRule rewrites each match of the rule's pattern, left to right,
// re-scanning from the start after every rewrite since replacements shift
// offsets. A match the rule leaves unchanged is skipped so later matches
// in the same token still apply.
func applyRule(rule Rule, token string) string {
	names := rule.Pattern.SubexpNames()
	offset := 0
	for iter := 0; iter < 100; iter++ {
		m := rule.Pattern.FindStringSubmatchIndex(token[offset:])
		if m == nil {
			return token
		}
		rest := token[offset:]
		groups := map[string]string{"": rest[m[0]:m[1]]}
		for gi, name := range names {
			if name == "" || m[2*gi] < 0 {
				continue
			}
			groups[name] = rest[m[2*gi]:m[2*gi+1]]
		}
		rewritten := rule.Apply(token, groups)
		if rewritten == token {
			offset += m[1]
			continue
		}
		token = rewritten
		offset = 0
		if token == "" {
			return ""
		}
	}
	return token
}

// Canned patterns matching how ACS labels phrase ages, races, estimate
// types, inflation adjustments and income brackets.
var (
	AgePattern       = regexp.MustCompile(`((?P<under>under (?P<under_end>\d+) years)|(?P<two>(?P<two_start>\d+) and (?P<two_end>\d+) years)|(?P<to>(?P<to_start>\d+) to (?P<to_end>\d+) years)|(?P<over>(?P<over_start>\d+) years and over)|(?P<one>(?P<one_start>\d+) years))`)
	RacePattern      = regexp.MustCompile(`((?P<white>white)|(?P<black>black or african american)|(?P<aian>american indian and alaska native)|(?P<asian>asian)|(?P<nhpi>native hawaiian and other pacific islander)|(?P<other>some other race)|(?P<two_plus>two or more races)|(?P<two>two races)|(?P<three_plus>three or more races)|(?P<hisp>hispanic or latino)|(?P<alone> alone))`)
	InflationPattern = regexp.MustCompile(`in (?P<year>\d+) inflation-adjusted dollars`)
	IncomePattern    = regexp.MustCompile(`((?P<less_than>less than \$(?P<less_than_stop>[0-9,]+))|(?P<to>\$(?P<to_start>[0-9,]+) to \$(?P<to_stop>[0-9,]+))|(?P<or_more>\$(?P<or_more_start>[0-9,]+) or more))`)
)

func ageRule(token string, groups map[string]string) string {
	whole := groups[""]
	switch {
	case groups["under"] != "":
		return strings.Replace(token, whole, "0-"+groups["under_end"], 1)
	case groups["two"] != "":
		return strings.Replace(token, whole, groups["two_start"]+"-"+groups["two_end"], 1)
	case groups["to"] != "":
		return strings.Replace(token, whole, groups["to_start"]+"-"+groups["to_end"], 1)
	case groups["over"] != "":
		return strings.Replace(token, whole, groups["over_start"]+"+", 1)
	case groups["one"] != "":
		return strings.Replace(token, whole, groups["one_start"], 1)
	}
	return token
}

func raceRule(token string, groups map[string]string) string {
	whole := groups[""]
	replacements := []struct{ group, out string }{
		{"white", "white"},
		{"black", "black"},
		{"aian", "AIAN"},
		{"asian", "asian"},
		{"nhpi", "NHPI"},
		{"other", "other"},
		{"two", "2"},
		{"two_plus", "2+"},
		{"three_plus", "3+"},
		{"alone", ""},
		{"hisp", "hisp"},
	}
	for _, r := range replacements {
		if groups[r.group] != "" {
			return strings.Replace(token, whole, r.out, 1)
		}
	}
	return token
}

func inflationRule(token string, groups map[string]string) string {
	return strings.Replace(token, groups[""], "$"+groups["year"], 1)
}

func incomeRule(token string, groups map[string]string) string {
	whole := groups[""]
	unformat := func(s string) string {
		n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
		if err != nil {
			return s
		}
		return strconv.Itoa(n)
	}
	switch {
	case groups["less_than"] != "":
		return strings.Replace(token, whole, "$0-"+unformat(groups["less_than_stop"]), 1)
	case groups["to"] != "":
		return strings.Replace(token, whole, "$"+unformat(groups["to_start"])+"-"+unformat(groups["to_stop"]), 1)
	case groups["or_more"] != "":
		return strings.Replace(token, whole, "$"+unformat(groups["or_more_start"])+"+", 1)
	}
	return token
}

// SimpleRenamer builds a renamer with sensible rules for the common ACS
// label phrases: age and income brackets collapse to numeric ranges, race
// names to short forms, inflation clauses to a dollar-year tag, and the
// estimate/margin-of-error type tokens to "", "moe", "ae" and "amoe".
func SimpleRenamer() *Renamer {
	r := NewRenamer()
	r.Replacements = map[string]string{
		"estimate":                      "",
		"margin of error":               "moe",
		"annotation of estimate":        "ae",
		"annotation":                    "ae",
		"annotation of margin of error": "amoe",
	}
	r.Rules = []Rule{
		{Pattern: AgePattern, Apply: ageRule},
		{Pattern: RacePattern, Apply: raceRule},
		{Pattern: InflationPattern, Apply: inflationRule},
		{Pattern: IncomePattern, Apply: incomeRule},
	}
	r.Default = func(token string) string {
		return strings.Join(strings.Fields(token), " ")
	}
	return r
}

// renamerRules is the YAML shape for LoadRenamerRules.
type renamerRules struct {
	Separator     string            `yaml:"separator"`
	Simple        bool              `yaml:"simple"`
	Replacements  map[string]string `yaml:"replacements"`
	GroupPrefixes map[string]string `yaml:"group_prefixes"`
}

// LoadRenamerRules builds a Renamer from a YAML rules file. With
// simple: true the canned SimpleRenamer rules form the base.
func LoadRenamerRules(path string) (*Renamer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "clean: read rules %s", path)
	}
	var rules renamerRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, eris.Wrapf(err, "clean: parse rules %s", path)
	}

	r := NewRenamer()
	if rules.Simple {
		r = SimpleRenamer()
	}
	if rules.Separator != "" {
		r.Separator = rules.Separator
	}
	for from, to := range rules.Replacements {
		r.Replacements[from] = to
	}
	r.AddGroupPrefixes(rules.GroupPrefixes)

	zap.L().Debug("loaded renamer rules",
		zap.String("path", path),
		zap.Int("replacements", len(rules.Replacements)),
		zap.Int("group_prefixes", len(rules.GroupPrefixes)))
	return r, nil
}
