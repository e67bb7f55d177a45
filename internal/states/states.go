// Package states holds the canonical state identifier table: FIPS codes,
// GNIS codes, postal abbreviations and full names for the fifty states, DC
// and Puerto Rico.
package states

import "strings"

// State is one row of the identifier table.
type State struct {
	FIPS int
	GNIS int
	Abbr string
	Name string
}

// All lists every state, DC and Puerto Rico, in FIPS order.
var All = []State{
	{1, 1779775, "AL", "Alabama"},
	{2, 1785533, "AK", "Alaska"},
	{4, 1779777, "AZ", "Arizona"},
	{5, 68085, "AR", "Arkansas"},
	{6, 1779778, "CA", "California"},
	{8, 1779779, "CO", "Colorado"},
	{9, 1779780, "CT", "Connecticut"},
	{10, 1779781, "DE", "Delaware"},
	{11, 1702382, "DC", "District of Columbia"},
	{12, 294478, "FL", "Florida"},
	{13, 1705317, "GA", "Georgia"},
	{15, 1779782, "HI", "Hawaii"},
	{16, 1779783, "ID", "Idaho"},
	{17, 1779784, "IL", "Illinois"},
	{18, 448508, "IN", "Indiana"},
	{19, 1779785, "IA", "Iowa"},
	{20, 481813, "KS", "Kansas"},
	{21, 1779786, "KY", "Kentucky"},
	{22, 1629543, "LA", "Louisiana"},
	{23, 1779787, "ME", "Maine"},
	{24, 1714934, "MD", "Maryland"},
	{25, 606926, "MA", "Massachusetts"},
	{26, 1779789, "MI", "Michigan"},
	{27, 662849, "MN", "Minnesota"},
	{28, 1779790, "MS", "Mississippi"},
	{29, 1779791, "MO", "Missouri"},
	{30, 767982, "MT", "Montana"},
	{31, 1779792, "NE", "Nebraska"},
	{32, 1779793, "NV", "Nevada"},
	{33, 1779794, "NH", "New Hampshire"},
	{34, 1779795, "NJ", "New Jersey"},
	{35, 897535, "NM", "New Mexico"},
	{36, 1779796, "NY", "New York"},
	{37, 1027616, "NC", "North Carolina"},
	{38, 1779797, "ND", "North Dakota"},
	{39, 1085497, "OH", "Ohio"},
	{40, 1102857, "OK", "Oklahoma"},
	{41, 1155107, "OR", "Oregon"},
	{42, 1779798, "PA", "Pennsylvania"},
	{44, 1219835, "RI", "Rhode Island"},
	{45, 1779799, "SC", "South Carolina"},
	{46, 1785534, "SD", "South Dakota"},
	{47, 1325873, "TN", "Tennessee"},
	{48, 1779801, "TX", "Texas"},
	{49, 1455989, "UT", "Utah"},
	{50, 1779802, "VT", "Vermont"},
	{51, 1779803, "VA", "Virginia"},
	{53, 1779804, "WA", "Washington"},
	{54, 1779805, "WV", "West Virginia"},
	{55, 1779806, "WI", "Wisconsin"},
	{56, 1779807, "WY", "Wyoming"},
	{72, 1779808, "PR", "Puerto Rico"},
}

var (
	byAbbr     = map[string]State{}
	byFIPS     = map[int]State{}
	abbrToName = map[string]string{}
)

func init() {
	for _, s := range All {
		byAbbr[s.Abbr] = s
		byFIPS[s.FIPS] = s
		abbrToName[s.Abbr] = s.Name
	}
}

// ByAbbr looks a state up by its postal abbreviation, case-insensitively.
func ByAbbr(abbr string) (State, bool) {
	s, ok := byAbbr[strings.ToUpper(abbr)]
	return s, ok
}

// ByFIPS looks a state up by its FIPS code.
func ByFIPS(fips int) (State, bool) {
	s, ok := byFIPS[fips]
	return s, ok
}

// NameForAbbr returns the full state name for a postal abbreviation.
func NameForAbbr(abbr string) (string, bool) {
	name, ok := abbrToName[strings.ToUpper(abbr)]
	return name, ok
}
