package census

import (
	"sort"
	"strings"
)

// Group is a single Census group: a named family of variables sharing a
// concept (e.g. B01001, "SEX BY AGE").
type Group struct {
	Name      string
	Concept   string
	Variables []string
}

// GroupCollection indexes the groups of a dataset by name.
type GroupCollection struct {
	byName map[string]*Group
}

// NewGroupCollection creates an empty collection.
func NewGroupCollection() *GroupCollection {
	return &GroupCollection{byName: make(map[string]*Group)}
}

// Len returns the number of groups.
func (gc *GroupCollection) Len() int {
	return len(gc.byName)
}

// Contains reports whether the named group exists.
func (gc *GroupCollection) Contains(name string) bool {
	_, ok := gc.byName[name]
	return ok
}

// Get returns the named group, or an UnknownGroupError.
func (gc *GroupCollection) Get(name string) (*Group, error) {
	g, ok := gc.byName[name]
	if !ok {
		return nil, &UnknownGroupError{Names: []string{name}}
	}
	return g, nil
}

func (gc *GroupCollection) add(g *Group) {
	sort.Strings(g.Variables)
	gc.byName[g.Name] = g
}

// FilterByTerm returns the groups whose concept contains every given term,
// case-insensitively.
func (gc *GroupCollection) FilterByTerm(terms ...string) *GroupCollection {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}

	out := NewGroupCollection()
	for name, g := range gc.byName {
		if g.Concept == "" {
			continue
		}
		concept := strings.ToLower(g.Concept)
		all := true
		for _, t := range lowered {
			if !strings.Contains(concept, t) {
				all = false
				break
			}
		}
		if all {
			out.byName[name] = g
		}
	}
	return out
}

// List returns the groups sorted by name.
func (gc *GroupCollection) List() []*Group {
	out := make([]*Group, 0, len(gc.byName))
	for _, g := range gc.byName {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
