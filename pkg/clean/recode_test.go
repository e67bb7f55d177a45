package clean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singerep/censaurus/pkg/census"
)

func stateTable(t *testing.T, values ...string) *census.Table {
	t.Helper()
	tbl := census.NewTable([]string{"state", "POP"})
	for i, v := range values {
		require.NoError(t, tbl.AppendRow([]string{v, []string{"100", "200", "300"}[i]}))
	}
	return tbl
}

func TestRecodeAbbrToName(t *testing.T) {
	tbl := stateTable(t, "AL", "IL", "MO")

	require.NoError(t, NewStateRecoder().Recode(tbl, "state", Name))

	assert.Equal(t, []string{"Alabama", "Illinois", "Missouri"}, tbl.Column("state"))
	assert.Equal(t, []string{"100", "200", "300"}, tbl.Column("POP"))
}

func TestRecodePaddedFIPSToAbbr(t *testing.T) {
	// "01" rules out the unpadded FIPS format even though "17" fits both.
	tbl := stateTable(t, "01", "17")

	require.NoError(t, NewStateRecoder().Recode(tbl, "state", Abbr))

	assert.Equal(t, []string{"AL", "IL"}, tbl.Column("state"))
}

func TestRecodeNameToPaddedGNIS(t *testing.T) {
	tbl := stateTable(t, "Arkansas", "Alabama")

	require.NoError(t, NewStateRecoder().Recode(tbl, "state", GNISPadded))

	assert.Equal(t, []string{"0068085", "1779775"}, tbl.Column("state"))
}

func TestRecodeFIPSToFIPSPadded(t *testing.T) {
	tbl := stateTable(t, "1", "2", "17")

	require.NoError(t, NewStateRecoder().Recode(tbl, "state", FIPSPadded))

	assert.Equal(t, []string{"01", "02", "17"}, tbl.Column("state"))
}

func TestRecodeUnknownTargetFormat(t *testing.T) {
	tbl := stateTable(t, "AL")

	err := NewStateRecoder().Recode(tbl, "state", StateFormat("POSTAL"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state format")
}

func TestRecodeMissingColumn(t *testing.T) {
	tbl := stateTable(t, "AL")

	err := NewStateRecoder().Recode(tbl, "st", Name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no column "st"`)
}

func TestRecodeUnmatchedValues(t *testing.T) {
	tbl := stateTable(t, "ZZ", "QQ")

	err := NewStateRecoder().Recode(tbl, "state", Name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to match")
	assert.Contains(t, err.Error(), "postal codes")
	assert.Contains(t, err.Error(), "Geographic Names Information System")
}
