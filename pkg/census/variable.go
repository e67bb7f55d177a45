package census

import (
	"net/url"
	"sort"
	"strings"
)

// pathSep joins path elements into map keys. Labels never contain it.
const pathSep = "\x1f"

func pathKey(path []string) string {
	return strings.Join(path, pathSep)
}

// VariableInfo is the raw per-variable metadata from variables.json.
type VariableInfo struct {
	Label         string            `json:"label"`
	Concept       string            `json:"concept"`
	Group         string            `json:"group"`
	PredicateType string            `json:"predicateType"`
	Attributes    string            `json:"attributes"`
	Values        map[string]map[string]string `json:"values"`
}

// Variable is a single named statistical field within a Census dataset.
//
// The Path is the variable's label split on "!!" with colons stripped and
// the group concept prepended. B01001_001E in the 2021 ACS has the label
// "Estimate!!Total:" and the path [sex by age, estimate, total].
type Variable struct {
	Name    string
	Label   string
	Group   string
	Concept string

	// Type is the Bureau's predicateType ("int", "float", "string", ...).
	Type string

	// Items enumerates the possible values of categorical variables, keyed
	// by code. Only present for some datasets.
	Items map[string]string

	// Attributes lists companion variable names (annotations, margins of
	// error) owned by this variable.
	Attributes []string

	Path       []string
	ParentPath []string

	// AttributeType is set only on attribute variables: "annotation",
	// "margin of error" or "annotation of margin of error".
	AttributeType string
}

// ReadablePath joins the path elements with " -> ".
func (v *Variable) ReadablePath() string {
	return strings.Join(v.Path, " -> ")
}

func newVariable(name string, info VariableInfo) *Variable {
	v := &Variable{
		Name:    name,
		Label:   strings.ToLower(info.Label),
		Group:   info.Group,
		Concept: strings.ToLower(info.Concept),
		Type:    info.PredicateType,
	}
	if v.Group == "N/A" || v.Group == "n/a" {
		v.Group = ""
	}
	if v.Concept == "n/a" {
		v.Concept = ""
	}
	if items, ok := info.Values["item"]; ok {
		v.Items = items
	}

	// GEO_ID carries a group/concept in some vintages but is structurally a
	// flat identifier, not part of any label tree.
	if name == "GEO_ID" {
		v.Label = "GEO_ID"
		v.Group = ""
		v.Concept = ""
	}

	parts := strings.Split(v.Label, "!!")
	path := make([]string, 0, len(parts)+1)
	if v.Concept != "" {
		path = append(path, v.Concept)
	}
	for _, p := range parts {
		path = append(path, strings.ReplaceAll(p, ":", ""))
	}
	v.Path = path
	v.ParentPath = path[:len(path)-1]

	if info.Attributes != "" {
		v.Attributes = strings.Split(info.Attributes, ",")
	}
	return v
}

// newAttributeVariable derives the companion variable (margin of error,
// annotation) from its owner. The attribute type comes from the suffix by
// which the attribute name extends the owner's.
func newAttributeVariable(name string, owner *Variable) *Variable {
	i := 0
	for i < len(name) && i < len(owner.Name) && name[i] == owner.Name[i] {
		i++
	}
	attrType := name[i:]
	switch attrType {
	case "A":
		attrType = "annotation"
	case "M":
		attrType = "margin of error"
	case "MA":
		attrType = "annotation of margin of error"
	}

	v := &Variable{
		Name:          name,
		Label:         owner.Label,
		Group:         owner.Group,
		Concept:       owner.Concept,
		Type:          owner.Type,
		Items:         owner.Items,
		Path:          append(append([]string{}, owner.Path...), attrType),
		ParentPath:    owner.ParentPath,
		AttributeType: attrType,
	}
	if name == "NAME" {
		v.Label = "NAME"
		v.Path = []string{"NAME"}
	}
	return v
}

// VariableCollection indexes a dataset's variables by name and arranges them
// into a tree keyed by label path.
type VariableCollection struct {
	byName    map[string]*Variable
	nameByKey map[string]string   // path key -> variable name
	children  map[string][]string // path key -> child path keys
	attrOwner map[string]string   // attribute name -> owner variable name
	groups    *GroupCollection
}

// NewVariableCollection builds the index from raw variables.json metadata.
func NewVariableCollection(raw map[string]VariableInfo) *VariableCollection {
	vc := &VariableCollection{
		byName:    make(map[string]*Variable, len(raw)),
		nameByKey: make(map[string]string, len(raw)),
		children:  make(map[string][]string, len(raw)),
		attrOwner: make(map[string]string),
		groups:    NewGroupCollection(),
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	type groupKey struct{ group, concept string }
	groupVars := make(map[groupKey][]string)

	for _, name := range names {
		v := newVariable(name, raw[name])
		vc.byName[name] = v
		key := pathKey(v.Path)
		vc.nameByKey[key] = name
		if _, ok := vc.children[key]; !ok {
			vc.children[key] = nil
		}
		groupVars[groupKey{v.Group, v.Concept}] = append(groupVars[groupKey{v.Group, v.Concept}], name)
		for _, attr := range v.Attributes {
			vc.attrOwner[attr] = name
		}
	}

	// Link children once every node exists.
	for _, name := range names {
		v := vc.byName[name]
		if len(v.ParentPath) == 0 {
			continue
		}
		parentKey := pathKey(v.ParentPath)
		if _, ok := vc.nameByKey[parentKey]; ok {
			vc.children[parentKey] = append(vc.children[parentKey], pathKey(v.Path))
		}
	}
	for key := range vc.children {
		sort.Strings(vc.children[key])
	}

	for gk, vars := range groupVars {
		vc.groups.add(&Group{Name: gk.group, Concept: gk.concept, Variables: vars})
	}

	return vc
}

// Len returns the number of variables (attribute variables excluded).
func (vc *VariableCollection) Len() int {
	return len(vc.byName)
}

// Names returns the variable names in sorted order.
func (vc *VariableCollection) Names() []string {
	names := make([]string, 0, len(vc.byName))
	for name := range vc.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Groups returns the group index for this collection.
func (vc *VariableCollection) Groups() *GroupCollection {
	return vc.groups
}

// Get returns the named variable, resolving attribute names (e.g.
// B01001_001M) to derived attribute variables. Returns nil when unknown.
func (vc *VariableCollection) Get(name string) *Variable {
	if v, ok := vc.byName[name]; ok {
		return v
	}
	if owner, ok := vc.attrOwner[name]; ok {
		return newAttributeVariable(name, vc.byName[owner])
	}
	return nil
}

// ParentOf returns the variable owning the parent path, or nil at a root.
func (vc *VariableCollection) ParentOf(name string) *Variable {
	v := vc.Get(name)
	if v == nil {
		return nil
	}
	if pname, ok := vc.nameByKey[pathKey(v.ParentPath)]; ok {
		return vc.byName[pname]
	}
	return nil
}

// RootOf walks up the tree to the first ancestor of the variable.
func (vc *VariableCollection) RootOf(name string) *Variable {
	v := vc.Get(name)
	if v == nil {
		return nil
	}
	for {
		parent := vc.ParentOf(v.Name)
		if parent == nil {
			return v
		}
		v = parent
	}
}

// ChildrenOf returns the direct children of the variable.
func (vc *VariableCollection) ChildrenOf(name string, includeRoot bool) *VariableCollection {
	v := vc.Get(name)
	if v == nil {
		return vc.mask(nil)
	}
	var names []string
	if includeRoot {
		names = append(names, name)
	}
	for _, childKey := range vc.children[pathKey(v.Path)] {
		names = append(names, vc.nameByKey[childKey])
	}
	return vc.mask(names)
}

// SiblingsOf returns the variables sharing this variable's parent.
func (vc *VariableCollection) SiblingsOf(name string, includeRoot bool) *VariableCollection {
	v := vc.Get(name)
	if v == nil {
		return vc.mask(nil)
	}
	parent := vc.ParentOf(name)
	if parent == nil {
		return vc.mask(nil)
	}
	var names []string
	for _, key := range vc.children[pathKey(parent.Path)] {
		sibling := vc.nameByKey[key]
		if sibling != name || includeRoot {
			names = append(names, sibling)
		}
	}
	return vc.mask(names)
}

// SiblingsAndCousinsOf returns every variable at the same depth under this
// variable's root ancestor.
func (vc *VariableCollection) SiblingsAndCousinsOf(name string, includeRoot bool) *VariableCollection {
	v := vc.Get(name)
	if v == nil {
		return vc.mask(nil)
	}
	root := vc.RootOf(name)
	depth := len(v.Path)

	var names []string
	for _, c := range vc.DescendantsOf(root.Name, true).Names() {
		cousin := vc.byName[c]
		if len(cousin.Path) != depth {
			continue
		}
		if cousin.Name != name || includeRoot {
			names = append(names, cousin.Name)
		}
	}
	return vc.mask(names)
}

// DescendantsOf returns the full subtree below the variable, breadth-first.
func (vc *VariableCollection) DescendantsOf(name string, includeRoot bool) *VariableCollection {
	v := vc.Get(name)
	if v == nil {
		return vc.mask(nil)
	}

	visited := map[string]bool{}
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		cv := vc.byName[current]
		for _, childKey := range vc.children[pathKey(cv.Path)] {
			child := vc.nameByKey[childKey]
			if !visited[child] {
				queue = append(queue, child)
			}
		}
	}

	var names []string
	for n := range visited {
		if n != name || includeRoot {
			names = append(names, n)
		}
	}
	return vc.mask(names)
}

// AncestorsOf returns the chain of variables from this one up to its root.
func (vc *VariableCollection) AncestorsOf(name string, includeRoot bool) *VariableCollection {
	var names []string
	if includeRoot {
		names = append(names, name)
	}
	current := name
	for {
		parent := vc.ParentOf(current)
		if parent == nil {
			break
		}
		names = append(names, parent.Name)
		current = parent.Name
	}
	return vc.mask(names)
}

// FilterByLabel returns the variables whose label contains every term,
// case-insensitively.
func (vc *VariableCollection) FilterByLabel(terms ...string) *VariableCollection {
	return vc.filter(terms, func(v *Variable) string { return v.Label })
}

// FilterByConcept returns the variables whose group concept contains every
// term, case-insensitively.
func (vc *VariableCollection) FilterByConcept(terms ...string) *VariableCollection {
	return vc.filter(terms, func(v *Variable) string { return v.Concept })
}

func (vc *VariableCollection) filter(terms []string, field func(*Variable) string) *VariableCollection {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}

	var names []string
	for name, v := range vc.byName {
		target := field(v)
		if target == "" {
			continue
		}
		all := true
		for _, t := range lowered {
			if !strings.Contains(target, t) {
				all = false
				break
			}
		}
		if all {
			names = append(names, name)
		}
	}
	return vc.mask(names)
}

// FilterByGroup returns the variables belonging to the named group.
func (vc *VariableCollection) FilterByGroup(group string) (*VariableCollection, error) {
	g, err := vc.groups.Get(group)
	if err != nil {
		return nil, err
	}
	return vc.mask(g.Variables), nil
}

// mask builds a sub-collection containing only the given variables. The
// tree is rebuilt, so traversal inside the mask only sees masked nodes.
func (vc *VariableCollection) mask(names []string) *VariableCollection {
	sub := &VariableCollection{
		byName:    make(map[string]*Variable, len(names)),
		nameByKey: make(map[string]string, len(names)),
		children:  make(map[string][]string, len(names)),
		attrOwner: make(map[string]string),
		groups:    NewGroupCollection(),
	}

	type groupKey struct{ group, concept string }
	groupVars := make(map[groupKey][]string)

	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		v := vc.Get(name)
		if v == nil {
			continue
		}
		sub.byName[name] = v
		key := pathKey(v.Path)
		sub.nameByKey[key] = name
		if _, ok := sub.children[key]; !ok {
			sub.children[key] = nil
		}
		groupVars[groupKey{v.Group, v.Concept}] = append(groupVars[groupKey{v.Group, v.Concept}], name)
		for _, attr := range v.Attributes {
			sub.attrOwner[attr] = name
		}
	}
	for _, name := range sorted {
		v, ok := sub.byName[name]
		if !ok || len(v.ParentPath) == 0 {
			continue
		}
		parentKey := pathKey(v.ParentPath)
		if _, exists := sub.nameByKey[parentKey]; exists {
			sub.children[parentKey] = append(sub.children[parentKey], pathKey(v.Path))
		}
	}
	for key := range sub.children {
		sort.Strings(sub.children[key])
	}
	for gk, vars := range groupVars {
		sub.groups.add(&Group{Name: gk.group, Concept: gk.concept, Variables: vars})
	}
	return sub
}

// variableChunkSize is the Bureau's per-request variable limit, minus room
// for NAME and GEO_ID which ride along on every chunk.
const variableChunkSize = 48

// buildVariableParams validates and expands the requested variables and
// groups, and splits them into per-request "get" parameter chunks. NAME and
// GEO_ID are always included so chunked responses can be rejoined.
func (vc *VariableCollection) buildVariableParams(variables []string, groups []string) (*VariableCollection, []url.Values, error) {
	var missing []string
	for _, name := range variables {
		if vc.Get(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &UnknownVariableError{Names: missing}
	}

	var missingGroups []string
	for _, g := range groups {
		if !vc.groups.Contains(g) {
			missingGroups = append(missingGroups, g)
		}
	}
	if len(missingGroups) > 0 {
		return nil, nil, &UnknownGroupError{Names: missingGroups}
	}

	names := append([]string{}, variables...)
	for _, g := range groups {
		grp, _ := vc.groups.Get(g)
		names = append(names, grp.Variables...)
	}

	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}

	selected := vc.mask(unique)

	if !seen["NAME"] && vc.Get("NAME") != nil {
		unique = append(unique, "NAME")
		seen["NAME"] = true
	}
	if !seen["GEO_ID"] && vc.Get("GEO_ID") != nil {
		unique = append(unique, "GEO_ID")
		seen["GEO_ID"] = true
	}

	var paramsList []url.Values
	for start := 0; start < len(unique); start += variableChunkSize {
		end := min(start+variableChunkSize, len(unique))
		chunk := append([]string{}, unique[start:end]...)
		if seen["GEO_ID"] && !contains(chunk, "GEO_ID") {
			chunk = append(chunk, "GEO_ID")
		}
		if seen["NAME"] && !contains(chunk, "NAME") {
			chunk = append(chunk, "NAME")
		}
		paramsList = append(paramsList, url.Values{"get": {strings.Join(chunk, ",")}})
	}
	if len(paramsList) == 0 {
		paramsList = append(paramsList, url.Values{"get": {""}})
	}

	return selected, paramsList, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
