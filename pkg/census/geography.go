package census

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Wildcard requests every unit at a level instead of a specific code.
const Wildcard = "*"

// geoPadWidths maps geography names to the zero-padded width of their FIPS
// codes in API filters.
var geoPadWidths = map[string]int{
	"state":    2,
	"county":   3,
	"tract":    6,
	"block":    4,
	"place":    5,
	"metropolitan statistical area/micropolitan statistical area": 5,
	"combined statistical area":                                   3,
	"congressional district":                                      2,
	"voting district":                                             6,
	"zip code tabulation area":                                    5,
}

// padGeoFilters zero-pads filter values to the width the API expects for
// each level. Wildcards and non-numeric values pass through untouched.
func padGeoFilters(filters map[string]string) map[string]string {
	padded := make(map[string]string, len(filters))
	for level, value := range filters {
		padded[level] = value
		if value == Wildcard {
			continue
		}
		width, ok := geoPadWidths[level]
		if level == "block group" {
			width, ok = 1, true
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		padded[level] = fmt.Sprintf("%0*d", width, n)
	}
	return padded
}

// levelList decodes a JSON field the API serves either as a single string
// or as a list of strings, normalizing both to a list.
type levelList []string

func (l *levelList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = levelList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return eris.Wrap(err, "census: decode geography level list")
	}
	*l = levelList(many)
	return nil
}

// GeographyInfo is the raw per-hierarchy metadata from geography.json.
type GeographyInfo struct {
	Name              string    `json:"name"`
	GeoLevelDisplay   string    `json:"geoLevelDisplay"`
	Requires          []string  `json:"requires"`
	Wildcard          []string  `json:"wildcard"`
	OptionalWithWCFor levelList `json:"optionalWithWCFor"`
}

// Geography is one supported geography hierarchy of a dataset: a target
// level plus the parent levels it must (or may, via wildcard) be filtered
// by. (state, county, tract) and (state, place) are distinct hierarchies.
type Geography struct {
	// Name is the target level, e.g. "county".
	Name string

	// Level is the Bureau's numeric display code for the hierarchy, e.g.
	// "050". Unique per dataset, unlike Name.
	Level string

	// Requires lists the parent levels, outermost first.
	Requires []string

	// Wildcard lists the parents that may be requested as "*".
	Wildcard []string

	// Path is Requires plus Name.
	Path []string
}

func newGeography(info GeographyInfo) *Geography {
	g := &Geography{
		Name:     info.Name,
		Level:    info.GeoLevelDisplay,
		Requires: info.Requires,
		Wildcard: info.Wildcard,
	}
	g.Path = append(append([]string{}, g.Requires...), g.Name)
	return g
}

// ReadablePath joins the hierarchy path with " -> ".
func (g *Geography) ReadablePath() string {
	return strings.Join(g.Path, " -> ")
}

func (g *Geography) isWildcard(level string) bool {
	for _, w := range g.Wildcard {
		if w == level {
			return true
		}
	}
	return false
}

// BuildParams turns geography filters into the API's for/in clauses.
//
// The Bureau's rules: every required parent must be pinned or be an allowed
// wildcard, and a wildcard may not appear above a pinned level (you cannot
// ask for tracts in every county of one state... unless county is the
// wildcard and nothing below it is pinned).
func (g *Geography) BuildParams(filters map[string]string) (url.Values, error) {
	filters = padGeoFilters(filters)
	params := url.Values{}

	hasPinned := false
	if v, ok := filters[g.Name]; ok && v != Wildcard {
		params.Add("for", g.Name+":"+v)
		hasPinned = true
	} else {
		params.Add("for", g.Name+":"+Wildcard)
	}

	var inClauses []string
	for i := len(g.Requires) - 1; i >= 0; i-- {
		level := g.Requires[i]
		value, ok := filters[level]
		if !ok {
			if !g.isWildcard(level) {
				return nil, &HierarchyError{Reason: fmt.Sprintf("%q must be supplied as a geo filter", level)}
			}
			value = Wildcard
		}

		if value == Wildcard {
			if !g.isWildcard(level) {
				return nil, &HierarchyError{Reason: fmt.Sprintf("%q must be specified and cannot be a wildcard", level)}
			}
			if hasPinned {
				return nil, &HierarchyError{Reason: fmt.Sprintf("cannot use wildcard for %q because a more specific level is already pinned", level)}
			}
		} else {
			hasPinned = true
		}

		inClauses = append(inClauses, level+":"+value)
	}
	for _, clause := range inClauses {
		params.Add("in", clause)
	}

	return params, nil
}

// buildBroadestParams builds params pinning only the required non-wildcard
// parents found among an area's attributes, leaving everything else wild.
// Returns nil when the attributes cannot satisfy the hierarchy.
func (g *Geography) buildBroadestParams(attributes map[string]string) url.Values {
	filters := map[string]string{}
	for _, level := range g.Requires {
		if g.isWildcard(level) {
			continue
		}
		if v, ok := attributes[level]; ok {
			filters[level] = v
		}
	}
	params, err := g.BuildParams(filters)
	if err != nil {
		return nil
	}
	return params
}

// GeographyCollection indexes a dataset's supported geography hierarchies.
type GeographyCollection struct {
	byLevel map[string]*Geography
}

// NewGeographyCollection builds the index from geography.json metadata.
func NewGeographyCollection(infos []GeographyInfo) *GeographyCollection {
	gc := &GeographyCollection{byLevel: make(map[string]*Geography, len(infos))}
	for _, info := range infos {
		g := newGeography(info)
		gc.byLevel[g.Level] = g
	}
	return gc
}

// Len returns the number of hierarchies.
func (gc *GeographyCollection) Len() int {
	return len(gc.byLevel)
}

// GetByLevel returns the hierarchy with the given display code.
func (gc *GeographyCollection) GetByLevel(level string) (*Geography, error) {
	if g, ok := gc.byLevel[level]; ok {
		return g, nil
	}
	return nil, &UnknownGeographyError{Requested: level}
}

// GetByName returns every hierarchy targeting the named level. "county"
// may resolve to both (county) and (state, county).
func (gc *GeographyCollection) GetByName(name string) ([]*Geography, error) {
	var matches []*Geography
	for _, g := range gc.byLevel {
		if g.Name == name {
			matches = append(matches, g)
		}
	}
	if len(matches) == 0 {
		return nil, &UnknownGeographyError{Requested: name}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Level < matches[j].Level })
	return matches, nil
}

// List returns the hierarchies sorted by level code.
func (gc *GeographyCollection) List() []*Geography {
	out := make([]*Geography, 0, len(gc.byLevel))
	for _, g := range gc.byLevel {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// BuildParamsByName resolves the named level against each matching
// hierarchy in turn, returning the first that accepts the filters. When
// several hierarchies match the name but none accepts, the error lists
// every candidate and its failure.
func (gc *GeographyCollection) BuildParamsByName(name string, filters map[string]string) (*Geography, url.Values, error) {
	matches, err := gc.GetByName(name)
	if err != nil {
		return nil, nil, err
	}

	var failures []string
	for _, g := range matches {
		params, buildErr := g.BuildParams(filters)
		if buildErr == nil {
			return g, params, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", g.ReadablePath(), buildErr))
	}

	if len(matches) == 1 {
		return nil, nil, &HierarchyError{Reason: failures[0]}
	}
	return nil, nil, &HierarchyError{Reason: fmt.Sprintf(
		"%d hierarchies match %q but none accept the given filters: %s",
		len(matches), name, strings.Join(failures, "; "))}
}

// BuildParamsByLevel resolves a specific hierarchy by display code.
func (gc *GeographyCollection) BuildParamsByLevel(level string, filters map[string]string) (*Geography, url.Values, error) {
	g, err := gc.GetByLevel(level)
	if err != nil {
		return nil, nil, err
	}
	params, err := g.BuildParams(filters)
	if err != nil {
		return nil, nil, err
	}
	return g, params, nil
}

// buildParamsForFeatures resolves the target level over a set of feature
// attribute maps (one per TIGERWeb feature inside the query area),
// deduplicating the generated parameter sets and preferring the hierarchy
// that covers the features in the fewest API calls. This is the stitching
// path for geographies that cannot be resolved natively inside a single
// hierarchy.
func (gc *GeographyCollection) buildParamsForFeatures(target string, features []map[string]string) (*Geography, []url.Values, error) {
	matches, err := gc.GetByName(target)
	if err != nil {
		return nil, nil, err
	}

	type candidate struct {
		geography *Geography
		params    []url.Values
	}
	var candidates []candidate

	for _, g := range matches {
		seen := map[string]bool{}
		var paramsSet []url.Values
		possible := true
		for _, attrs := range features {
			params := g.buildBroadestParams(attrs)
			if params == nil {
				possible = false
				break
			}
			key := params.Encode()
			if !seen[key] {
				seen[key] = true
				paramsSet = append(paramsSet, params)
			}
		}
		if possible {
			candidates = append(candidates, candidate{geography: g, params: paramsSet})
		}
	}

	if len(candidates) == 0 {
		return nil, nil, &HierarchyError{Reason: fmt.Sprintf(
			"no supported hierarchy for %q can cover the requested area", target)}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].params) < len(candidates[j].params)
	})
	best := candidates[0]
	return best.geography, best.params, nil
}
