package clean

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/internal/states"
	"github.com/singerep/censaurus/pkg/census"
)

// StateFormat names one way of writing a state identifier.
type StateFormat string

const (
	// FIPS is the unpadded FIPS code: 1, 2, 4, ...
	FIPS StateFormat = "FIPS"
	// FIPSPadded is the two-digit FIPS code: 01, 02, 04, ...
	FIPSPadded StateFormat = "FIPS_PADDED"
	// Abbr is the postal abbreviation: AL, AK, AZ, ...
	Abbr StateFormat = "ABBR"
	// Name is the full state name: Alabama, Alaska, Arizona, ...
	Name StateFormat = "NAME"
	// GNIS is the Geographic Names Information System code: 1779775, ...
	GNIS StateFormat = "GNIS"
	// GNISPadded is the seven-digit GNIS code: 1779775, 0068085, ...
	GNISPadded StateFormat = "GNIS_PADDED"
)

var stateFormats = []StateFormat{FIPS, FIPSPadded, Abbr, Name, GNIS, GNISPadded}

var stateFormatExplanations = map[StateFormat]string{
	FIPS:       "Integer codes. For example: 1 for Alabama, 2 for Alaska, etc.",
	FIPSPadded: "0-padded two-digit integer codes. For example: 01 for Alabama, 02 for Alaska, etc.",
	Abbr:       "Two character state abbreviations (postal codes). For example: AL for Alabama, AK for Alaska, etc.",
	Name:       "Full state names. For example: Alabama, Alaska, etc.",
	GNIS:       "Geographic Names Information System identifiers. For example: 1779775 for Alabama, 1785533 for Alaska, etc.",
	GNISPadded: "0-padded seven-digit integer codes. For example: 1779775 for Alabama, 0068085 for Connecticut, etc.",
}

func formatValue(s states.State, f StateFormat) string {
	switch f {
	case FIPS:
		return fmt.Sprintf("%d", s.FIPS)
	case FIPSPadded:
		return fmt.Sprintf("%02d", s.FIPS)
	case Abbr:
		return s.Abbr
	case Name:
		return s.Name
	case GNIS:
		return fmt.Sprintf("%d", s.GNIS)
	case GNISPadded:
		return fmt.Sprintf("%07d", s.GNIS)
	}
	return ""
}

// StateRecoder recodes state identifier columns between formats, inferring
// the source format from the column's values.
type StateRecoder struct {
	lookup map[StateFormat]map[string]states.State
}

// NewStateRecoder builds the recoding tables.
func NewStateRecoder() *StateRecoder {
	r := &StateRecoder{lookup: map[StateFormat]map[string]states.State{}}
	for _, f := range stateFormats {
		byValue := make(map[string]states.State, len(states.All))
		for _, s := range states.All {
			byValue[formatValue(s, f)] = s
		}
		r.lookup[f] = byValue
	}
	return r
}

// Recode rewrites the named column into the target format. The source
// format is the first format every value of the column parses as.
func (r *StateRecoder) Recode(t *census.Table, column string, to StateFormat) error {
	if _, ok := stateFormatExplanations[to]; !ok {
		return eris.Errorf("clean: unknown state format %q", to)
	}
	cells := t.Column(column)
	if cells == nil {
		return eris.Errorf("clean: no column %q to recode", column)
	}

	for _, from := range stateFormats {
		if from == to {
			continue
		}
		byValue := r.lookup[from]
		recoded := make([]string, len(cells))
		matched := true
		for i, cell := range cells {
			s, ok := byValue[cell]
			if !ok {
				matched = false
				break
			}
			recoded[i] = formatValue(s, to)
		}
		if matched {
			zap.L().Debug("recoded state column",
				zap.String("column", column),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
			return t.SetColumn(column, recoded)
		}
	}

	var b strings.Builder
	b.WriteString("clean: unable to match the state identifiers to any format; expected one of:\n")
	for _, f := range stateFormats {
		if f == to {
			continue
		}
		fmt.Fprintf(&b, "  - %s: %s\n", f, stateFormatExplanations[f])
	}
	return eris.New(b.String())
}
