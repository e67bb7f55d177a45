package clean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singerep/censaurus/pkg/census"
)

func raceTable(t *testing.T) *census.Table {
	t.Helper()
	tbl := census.NewTable([]string{"GEO_ID", "B02001_005E", "B02001_008E", "B02001_002E"})
	require.NoError(t, tbl.AppendRow([]string{"0400000US17", "1", "10", "100"}))
	require.NoError(t, tbl.AppendRow([]string{"0400000US29", "2", "", "200"}))

	bind := func(name, tail string) {
		tbl.BindVariable(name, &census.Variable{
			Name:    name,
			Group:   "B02001",
			Concept: "race",
			Type:    "int",
			Path:    []string{"race", "estimate", "total", tail},
		})
	}
	bind("B02001_005E", "american indian and alaska native alone")
	bind("B02001_008E", "two or more races")
	bind("B02001_002E", "white alone")
	return tbl
}

func TestRegroupSumsMatchingColumns(t *testing.T) {
	tbl := raceTable(t)
	require.NoError(t, FiveRaceRegrouper().Regroup(tbl))

	grouped := "g:B02001_005E,B02001_008E"
	assert.Equal(t, []string{"GEO_ID", "B02001_002E", grouped}, tbl.Columns())
	assert.Equal(t, []string{"11", "2"}, tbl.Column(grouped))

	v := tbl.Variable(grouped)
	require.NotNil(t, v)
	assert.Equal(t, []string{"race", "estimate", "total", "other"}, v.Path)
	assert.Equal(t, "B02001", v.Group)
}

func TestRegroupLeavesUnmatchedColumns(t *testing.T) {
	tbl := raceTable(t)
	require.NoError(t, FiveRaceRegrouper().Regroup(tbl))

	assert.Equal(t, []string{"100", "200"}, tbl.Column("B02001_002E"))
	require.NotNil(t, tbl.Variable("B02001_002E"))
}

func TestRegroupThenRename(t *testing.T) {
	tbl := raceTable(t)
	require.NoError(t, FiveRaceRegrouper().Regroup(tbl))
	require.NoError(t, SimpleRenamer().Rename(tbl))

	assert.Equal(t, []string{"GEO_ID", "race|total|white", "race|total|other"}, tbl.Columns())
}

func ageTable(t *testing.T, tails ...string) *census.Table {
	t.Helper()
	columns := []string{"GEO_ID"}
	for i := range tails {
		columns = append(columns, string(rune('A'+i)))
	}
	tbl := census.NewTable(columns)

	row := []string{"0400000US17"}
	for i := range tails {
		row = append(row, []string{"1", "2", "4", "8", "16"}[i])
	}
	require.NoError(t, tbl.AppendRow(row))

	for i, tail := range tails {
		name := string(rune('A' + i))
		tbl.BindVariable(name, &census.Variable{
			Name:    name,
			Group:   "B01001",
			Concept: "sex by age",
			Type:    "int",
			Path:    []string{"sex by age", "estimate", "total", tail},
		})
	}
	return tbl
}

func TestAgeRegrouper(t *testing.T) {
	tbl := ageTable(t,
		"under 5 years",
		"5 to 9 years",
		"18 and 19 years",
		"85 years and over",
	)

	require.NoError(t, NewAgeRegrouper("0-17", "18+").Regroup(tbl))

	assert.Equal(t, []string{"GEO_ID", "g:A,B", "g:C,D"}, tbl.Columns())
	assert.Equal(t, []string{"3"}, tbl.Column("g:A,B"))
	assert.Equal(t, []string{"12"}, tbl.Column("g:C,D"))

	young := tbl.Variable("g:A,B")
	require.NotNil(t, young)
	assert.Equal(t, []string{"sex by age", "estimate", "total", "0-17"}, young.Path)
}

func TestAgeRegrouperStraddlingBracket(t *testing.T) {
	tbl := ageTable(t, "15 to 19 years")

	err := NewAgeRegrouper("0-17", "18+").Regroup(tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not fit")
}

func TestAgeRegrouperUncoveredAge(t *testing.T) {
	tbl := ageTable(t, "85 years and over")

	err := NewAgeRegrouper("0-17").Regroup(tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not fit")
}

func TestAgeRegrouperBracketValidation(t *testing.T) {
	tbl := ageTable(t, "under 5 years")

	err := NewAgeRegrouper("0-17", "17+").Regroup(tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one bracket")

	err = NewAgeRegrouper("17").Regroup(tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "formatted like")

	err = NewAgeRegrouper("30-20").Regroup(tbl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
