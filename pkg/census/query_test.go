package census

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singerep/censaurus/pkg/tigerweb"
)

// queryTestDataset builds a dataset whose metadata and data calls both hit
// the given handler for the data path.
func queryTestDataset(t *testing.T, data http.HandlerFunc) *Dataset {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "geography.json"):
			fmt.Fprint(w, geographyDoc)
		case strings.HasSuffix(r.URL.Path, "variables.json"):
			fmt.Fprint(w, variablesDoc)
		default:
			data(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	ds, err := NewACS5(context.Background(), 2021,
		WithClientOptions(WithBaseURL(srv.URL), WithRetry(fastRetry(1))))
	require.NoError(t, err)
	return ds
}

func TestQueryStates(t *testing.T) {
	var gotQuery url.Values
	ds := queryTestDataset(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `[
			["B01001_001E","NAME","GEO_ID","state"],
			["5024279","Alabama","0400000US01","01"],
			["733391","Alaska","0400000US02","02"]
		]`)
	})

	result, err := ds.States(context.Background(), Query{
		Variables: []string{"B01001_001E"},
	})
	require.NoError(t, err)

	assert.Equal(t, "state:*", gotQuery.Get("for"))
	assert.Contains(t, gotQuery.Get("get"), "B01001_001E")
	assert.Contains(t, gotQuery.Get("get"), "GEO_ID")

	assert.Equal(t, 2, result.Len())
	require.NotNil(t, result.Geography())
	assert.Equal(t, "state", result.Geography().Name)
	require.NotNil(t, result.Variable("B01001_001E"))
	assert.Equal(t, "B01001", result.Variable("B01001_001E").Group)
	assert.Nil(t, result.Geometries)
}

func TestQueryCountiesWithinState(t *testing.T) {
	var gotQuery url.Values
	ds := queryTestDataset(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `[
			["B01001_001E","NAME","GEO_ID","state","county"],
			["5275541","Cook County, Illinois","0500000US17031","17","031"]
		]`)
	})

	illinois := &tigerweb.Area{
		GeoID:     "17",
		Name:      "Illinois",
		LayerName: "States",
		Attributes: map[string]string{"state": "17"},
	}

	result, err := ds.Counties(context.Background(), Query{
		Within:    []*tigerweb.Area{illinois},
		Variables: []string{"B01001_001E"},
		Rename:    map[string]string{"B01001_001E": "total_pop"},
	})
	require.NoError(t, err)

	// Counties within one state resolve natively, with no TIGERWeb round
	// trip needed.
	assert.Equal(t, "county:*", gotQuery.Get("for"))
	assert.Equal(t, "state:17", gotQuery.Get("in"))

	assert.True(t, result.HasColumn("total_pop"))
	assert.False(t, result.HasColumn("B01001_001E"))
	require.NotNil(t, result.Variable("total_pop"))
}

func TestQueryNoContent(t *testing.T) {
	ds := queryTestDataset(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	result, err := ds.States(context.Background(), Query{
		Variables: []string{"B01001_001E"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Len())
	require.NotNil(t, result.Geography())
	assert.Equal(t, "state", result.Geography().Name)
}

func TestQueryUnknownVariable(t *testing.T) {
	ds := queryTestDataset(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no data request expected")
	})

	_, err := ds.States(context.Background(), Query{Variables: []string{"B99999_001E"}})
	var unknown *UnknownVariableError
	require.ErrorAs(t, err, &unknown)
}

func TestQueryExtraParams(t *testing.T) {
	var gotQuery url.Values
	ds := queryTestDataset(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `[["B01001_001E","NAME","GEO_ID","state"],["1","x","0400000US01","01"]]`)
	})

	_, err := ds.States(context.Background(), Query{
		Variables: []string{"B01001_001E"},
		Extra:     url.Values{"time": {"2021-01"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2021-01", gotQuery.Get("time"))
}

func TestQueryNeedsLayerForStitching(t *testing.T) {
	ds := queryTestDataset(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no data request expected")
	})

	// A county query inside a place cannot be expressed natively, and
	// without layer hints there is nothing to stitch against.
	evanston := &tigerweb.Area{
		GeoID:     "1724582",
		Name:      "Evanston",
		LayerName: "Incorporated Places",
		Attributes: map[string]string{"state": "17", "place": "24582"},
	}
	_, err := ds.OtherGeography(context.Background(), "county", nil, Query{
		Within:    []*tigerweb.Area{evanston},
		Variables: []string{"B01001_001E"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layer")
}

func TestClipToFeatures(t *testing.T) {
	ds := queryTestDataset(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[["NAME"],["x"]]`)
	})

	table, err := ParseTable([]byte(`[
		["GEO_ID","NAME","B01001_001E"],
		["0500000US17031","Cook County","5275541"],
		["0500000US17043","DuPage County","932877"],
		["0500000US17089","Kane County","516522"]
	]`))
	require.NoError(t, err)

	result := &Result{Table: table}
	features := []tigerweb.Feature{
		{GeoID: "17031", Name: "Cook County"},
		{GeoID: "17089", Name: "Kane County"},
	}
	require.NoError(t, ds.clipToFeatures(result, features, false))

	assert.Equal(t, 2, result.Len())
	assert.Equal(t, []string{"0500000US17031", "0500000US17089"}, result.Column("GEO_ID"))
	assert.Nil(t, result.Geometries)

	// With geometry requested, boundaries come back keyed by full GEO_ID.
	result2 := &Result{Table: table}
	require.NoError(t, ds.clipToFeatures(result2, features, true))
	assert.Len(t, result2.Geometries, 2)
	assert.Contains(t, result2.Geometries, "0500000US17031")
}
