package tigerweb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/singerep/censaurus/internal/resilience"
)

func testRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1}
}

const layersDoc = `{
	"layers": [
		{"id": 80, "name": "States",
		 "fields": [{"name": "GEOID"}, {"name": "NAME"}, {"name": "STATE"}]},
		{"id": 82, "name": "Counties",
		 "fields": [{"name": "GEOID"}, {"name": "NAME"}, {"name": "STATE"}, {"name": "COUNTY"}]},
		{"id": 84, "name": "Census Tracts"},
		{"id": 85, "name": "Census Tracts Labels"}
	]
}`

// testFeature is one fake map-service feature.
type testFeature struct {
	geoID string
	name  string
	props string // extra properties, raw JSON fragment
	geom  string // GeoJSON geometry, "null" when absent
}

func (f testFeature) json() string {
	props := fmt.Sprintf(`"GEOID": %q, "NAME": %q`, f.geoID, f.name)
	if f.props != "" {
		props += ", " + f.props
	}
	g := f.geom
	if g == "" {
		g = "null"
	}
	return fmt.Sprintf(`{"type": "Feature", "properties": {%s}, "geometry": %s}`, props, g)
}

func collectionJSON(features []testFeature, where string) string {
	var matched []string
	geoIDFilter := ""
	if m := regexp.MustCompile(`GEOID='([^']+)'`).FindStringSubmatch(where); m != nil {
		geoIDFilter = m[1]
	}
	for _, f := range features {
		if geoIDFilter != "" && f.geoID != geoIDFilter {
			continue
		}
		matched = append(matched, f.json())
	}
	return fmt.Sprintf(`{"type": "FeatureCollection", "features": [%s]}`, strings.Join(matched, ","))
}

func box(minX, minY, maxX, maxY float64) string {
	return fmt.Sprintf(`{"type": "Polygon", "coordinates": [[[%f,%f],[%f,%f],[%f,%f],[%f,%f],[%f,%f]]]}`,
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY)
}

// newTestService spins up a fake two-layer map service and discovers it.
func newTestService(t *testing.T) *AreaCollection {
	t.Helper()

	layerFeatures := map[string][]testFeature{
		"80": {
			{geoID: "17", name: "Illinois", props: `"STATE": "17"`, geom: box(0, 0, 10, 10)},
			{geoID: "29", name: "Missouri", props: `"STATE": "29"`, geom: box(10, 0, 20, 10)},
		},
		"82": {
			{geoID: "17031", name: "Cook County", props: `"STATE": "17", "COUNTY": "031"`, geom: box(2, 2, 4, 4)},
			{geoID: "17043", name: "DuPage County", props: `"STATE": "17", "COUNTY": "043"`, geom: box(9, 9, 19, 19)},
			{geoID: "29221", name: "Washington County", props: `"STATE": "29", "COUNTY": "221"`, geom: box(12, 2, 14, 4)},
			{geoID: "05143", name: "Washington County", props: `"STATE": "05", "COUNTY": "143"`, geom: box(30, 2, 32, 4)},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/layers"):
			fmt.Fprint(w, layersDoc)
		case strings.HasSuffix(path, "/query"):
			parts := strings.Split(strings.Trim(path, "/"), "/")
			layerID := parts[len(parts)-2]
			features := layerFeatures[layerID]
			if r.URL.Query().Get("returnCountOnly") == "true" {
				fmt.Fprintf(w, `{"count": %d}`, len(features))
				return
			}
			fmt.Fprint(w, collectionJSON(features, r.URL.Query().Get("where")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient("tigerWMS_Test", WithBaseURL(srv.URL), WithRetry(testRetry()))
	collection, err := NewAreaCollection(context.Background(), client)
	require.NoError(t, err)
	return collection
}

func TestNewAreaCollection(t *testing.T) {
	c := newTestService(t)

	// Label layers are skipped.
	assert.Equal(t, []string{"Census Tracts", "Counties", "States"}, c.LayerNames())

	layer, err := c.GetLayer("Counties")
	require.NoError(t, err)
	assert.Equal(t, 82, layer.ID)
	assert.Contains(t, layer.Fields, "COUNTY")
}

func TestGetLayerFuzzy(t *testing.T) {
	c := newTestService(t)

	layer, err := c.GetLayer("counties")
	require.NoError(t, err)
	assert.Equal(t, "Counties", layer.Name)

	layer, err = c.GetLayer("census tracts")
	require.NoError(t, err)
	assert.Equal(t, "Census Tracts", layer.Name)

	_, err = c.GetLayer("ferry routes")
	var noMatch *NoMatchError
	require.ErrorAs(t, err, &noMatch)
}

func TestAreaByNameExact(t *testing.T) {
	c := newTestService(t)

	area, err := c.State(context.Background(), "Illinois")
	require.NoError(t, err)
	assert.Equal(t, "17", area.GeoID)
	assert.Equal(t, "Illinois", area.Name)
	assert.Equal(t, "States", area.LayerName)
	assert.Equal(t, "17", area.Attributes["state"])
}

func TestAreaByNameStateAbbreviation(t *testing.T) {
	c := newTestService(t)

	// "MO" expands to Missouri, separating the two Washington Counties.
	area, err := c.County(context.Background(), "Washington County, MO")
	require.NoError(t, err)
	assert.Equal(t, "29221", area.GeoID)
	assert.Equal(t, "221", area.Attributes["county"])
}

func TestAreaByNameAmbiguous(t *testing.T) {
	c := newTestService(t)

	_, err := c.County(context.Background(), "Washington County")
	var ambiguous *AmbiguousNameError
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Candidates, 2)
}

func TestAreaByNameNoMatch(t *testing.T) {
	c := newTestService(t)

	_, err := c.County(context.Background(), "Atlantis County")
	var noMatch *NoMatchError
	require.ErrorAs(t, err, &noMatch)
	assert.NotEmpty(t, noMatch.Examples)
}

func TestAreaByNamePartialName(t *testing.T) {
	c := newTestService(t)

	// "county" appears on every candidate, so omitting it costs nothing.
	area, err := c.County(context.Background(), "DuPage")
	require.NoError(t, err)
	assert.Equal(t, "17043", area.GeoID)
}

func TestAreaByGeoID(t *testing.T) {
	c := newTestService(t)

	layer, err := c.GetLayer("Counties")
	require.NoError(t, err)

	area, err := layer.AreaByGeoID(context.Background(), "17031")
	require.NoError(t, err)
	assert.Equal(t, "17031", area.GeoID)
	assert.Equal(t, "Cook County", area.Name)

	_, err = layer.AreaByGeoID(context.Background(), "99999")
	var noMatch *NoMatchError
	require.ErrorAs(t, err, &noMatch)
	assert.NotEmpty(t, noMatch.Examples)
}

func TestFeaturesWithinNational(t *testing.T) {
	c := newTestService(t)

	features, err := c.FeaturesWithin(context.Background(), USCartographic, "Counties", 0)
	require.NoError(t, err)

	// Every county plus the synthetic national row.
	require.Len(t, features, 5)
	assert.Equal(t, nationalGeoID, features[4].GeoID)
}

func TestFeaturesWithinThreshold(t *testing.T) {
	c := newTestService(t)

	illinois, err := c.State(context.Background(), "Illinois")
	require.NoError(t, err)
	require.NoError(t, illinois.LoadGeometry(context.Background()))

	// Cook's bbox sits fully inside Illinois; DuPage's grazes it.
	features, err := c.FeaturesWithin(context.Background(), illinois, "Counties", 0.5)
	require.NoError(t, err)

	var geoIDs []string
	for _, f := range features {
		geoIDs = append(geoIDs, f.GeoID)
	}
	assert.Contains(t, geoIDs, "17031")
	assert.NotContains(t, geoIDs, "17043")
}

func TestBoundsOverlapRatio(t *testing.T) {
	b := geom.NewBounds(geom.XY).Set(0, 0, 10, 10)
	inside := geom.NewBounds(geom.XY).Set(2, 2, 4, 4)
	half := geom.NewBounds(geom.XY).Set(5, 0, 15, 10)
	outside := geom.NewBounds(geom.XY).Set(20, 20, 30, 30)
	point := geom.NewBounds(geom.XY).Set(5, 5, 5, 5)

	assert.InDelta(t, 1.0, boundsOverlapRatio(inside, b), 1e-9)
	assert.InDelta(t, 0.5, boundsOverlapRatio(half, b), 1e-9)
	assert.Equal(t, 0.0, boundsOverlapRatio(outside, b))
	assert.Equal(t, 1.0, boundsOverlapRatio(point, b))
	assert.Equal(t, 0.0, boundsOverlapRatio(nil, b))
}
