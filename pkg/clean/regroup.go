package clean

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/pkg/census"
)

// Regrouper aggregates sibling columns into new buckets by substituting
// label-path elements. Each grouping maps a new bucket name to the path
// elements it absorbs: columns whose substituted paths collide are summed
// into one column.
type Regrouper struct {
	Groupings map[string][]string
}

// NewRegrouper creates a Regrouper over the given groupings.
func NewRegrouper(groupings map[string][]string) *Regrouper {
	return &Regrouper{Groupings: groupings}
}

// FiveRaceRegrouper folds the smaller race categories into "other", leaving
// white, black, asian, hispanic and other.
func FiveRaceRegrouper() *Regrouper {
	return NewRegrouper(map[string][]string{
		"other": {
			"some other race alone",
			"two or more races",
			"american indian and alaska native alone",
			"native hawaiian and other pacific islander alone",
		},
	})
}

// Regroup sums matching columns in place. The aggregated column is named
// "g:" followed by the sorted source column names; rename afterwards to
// keep names manageable.
func (rg *Regrouper) Regroup(t *census.Table) error {
	type bucket struct {
		path    []string
		cols    []string
		sources []*census.Variable
	}
	buckets := map[string]*bucket{}
	var order []string

	for _, col := range t.Columns() {
		v := t.Variable(col)
		if v == nil {
			continue
		}
		for group, elements := range rg.Groupings {
			for i, pathElement := range v.Path {
				for _, element := range elements {
					if pathElement != element {
						continue
					}
					grouped := append([]string{}, v.Path...)
					grouped[i] = group
					key := strings.Join(grouped, "\x1f")
					b, ok := buckets[key]
					if !ok {
						b = &bucket{path: grouped}
						buckets[key] = b
						order = append(order, key)
					}
					if !containsString(b.cols, col) {
						b.cols = append(b.cols, col)
						b.sources = append(b.sources, v)
					}
				}
			}
		}
	}

	for _, key := range order {
		b := buckets[key]
		sorted := append([]string{}, b.cols...)
		sort.Strings(sorted)
		name := "g:" + strings.Join(sorted, ",")

		sums, err := sumColumns(t, b.cols)
		if err != nil {
			return err
		}
		t.DropColumns(b.cols...)
		if err := t.AddColumn(name, sums); err != nil {
			return err
		}
		t.BindVariable(name, &census.Variable{
			Name:    name,
			Group:   b.sources[0].Group,
			Concept: b.sources[0].Concept,
			Type:    b.sources[0].Type,
			Path:    b.path,
		})
	}

	zap.L().Debug("regrouped columns", zap.Int("buckets", len(buckets)))
	return nil
}

// sumColumns adds the named columns row-wise. Cells that do not parse are
// treated as zero; a row with no parsable cell stays empty.
func sumColumns(t *census.Table, cols []string) ([]string, error) {
	sums := make([]float64, t.Len())
	any := make([]bool, t.Len())
	for _, col := range cols {
		vals, ok := t.Float(col)
		if vals == nil {
			return nil, eris.Errorf("clean: no column %q to regroup", col)
		}
		for i := range vals {
			if ok[i] {
				sums[i] += vals[i]
				any[i] = true
			}
		}
	}

	out := make([]string, t.Len())
	for i, s := range sums {
		if any[i] {
			out[i] = strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return out, nil
}

// MaxAge caps the open-ended top bracket.
const MaxAge = 120

// AgeRegrouper folds the Bureau's fine-grained age brackets into custom
// ones. Brackets are "<start>-<stop>", except the oldest which is
// "<start>+", e.g. ["0-17", "18-29", "30-49", "50-64", "65+"].
type AgeRegrouper struct {
	Brackets []string
}

// NewAgeRegrouper creates an AgeRegrouper over the given brackets.
func NewAgeRegrouper(brackets ...string) *AgeRegrouper {
	return &AgeRegrouper{Brackets: brackets}
}

// Regroup assigns every age-shaped path element to one of the configured
// brackets and sums the columns that land in the same bracket.
func (ag *AgeRegrouper) Regroup(t *census.Table) error {
	assignments, err := ag.assignments()
	if err != nil {
		return err
	}

	assign := func(element string, start, stop int) (string, error) {
		if start >= 0 && stop >= 0 {
			if assignments[start] == "" || assignments[start] != assignments[stop] {
				return "", eris.Errorf("clean: the age bracket %q does not fit into the brackets provided", element)
			}
			return assignments[start], nil
		}
		at := start
		if at < 0 {
			at = stop
		}
		if at < 0 || at > MaxAge || assignments[at] == "" {
			return "", eris.Errorf("clean: the age bracket %q does not fit into the brackets provided", element)
		}
		return assignments[at], nil
	}

	groupings := map[string][]string{}
	for _, col := range t.Columns() {
		v := t.Variable(col)
		if v == nil {
			continue
		}
		for _, element := range v.Path {
			m := matchGroups(AgePattern, element)
			if m == nil {
				continue
			}
			var bracket string
			var assignErr error
			switch {
			case m["under"] != "":
				bracket, assignErr = assign(element, -1, atoi(m["under_end"]))
			case m["two"] != "":
				bracket, assignErr = assign(element, atoi(m["two_start"]), atoi(m["two_end"]))
			case m["to"] != "":
				bracket, assignErr = assign(element, atoi(m["to_start"]), atoi(m["to_end"]))
			case m["over"] != "":
				bracket, assignErr = assign(element, atoi(m["over_start"]), -1)
			case m["one"] != "":
				bracket, assignErr = assign(element, atoi(m["one_start"]), -1)
			default:
				continue
			}
			if assignErr != nil {
				return assignErr
			}
			if !containsString(groupings[bracket], element) {
				groupings[bracket] = append(groupings[bracket], element)
			}
		}
	}

	return NewRegrouper(groupings).Regroup(t)
}

// assignments maps every single year of age to its bracket, rejecting
// overlaps and malformed brackets.
func (ag *AgeRegrouper) assignments() ([]string, error) {
	assignments := make([]string, MaxAge+1)
	for _, bracket := range ag.Brackets {
		var start, stop int
		switch {
		case strings.HasSuffix(bracket, "+"):
			start = atoi(strings.TrimSuffix(bracket, "+"))
			stop = MaxAge
		case strings.Contains(bracket, "-"):
			parts := strings.SplitN(bracket, "-", 2)
			start, stop = atoi(parts[0]), atoi(parts[1])
		default:
			return nil, eris.Errorf("clean: age bracket %q should be formatted like <start>-<stop> or <start>+", bracket)
		}
		if start < 0 || stop < start || stop > MaxAge {
			return nil, eris.Errorf("clean: age bracket %q is out of range", bracket)
		}
		for i := start; i <= stop; i++ {
			if assignments[i] != "" {
				return nil, eris.Errorf("clean: the age %d is assigned to more than one bracket", i)
			}
			assignments[i] = bracket
		}
	}
	return assignments, nil
}

// matchGroups returns the named submatches of the first match, or nil.
func matchGroups(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatchIndex(s)
	if m == nil {
		return nil
	}
	groups := map[string]string{"": s[m[0]:m[1]]}
	for gi, name := range re.SubexpNames() {
		if name == "" || m[2*gi] < 0 {
			continue
		}
		groups[name] = s[m[2*gi]:m[2*gi+1]]
	}
	return groups
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
