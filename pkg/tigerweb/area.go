package tigerweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Area is a single geographic unit resolved from a TIGERWeb layer: one
// state, county, place, and so on. Attributes are keyed by Data API
// geography names, so an Area can seed geography filters directly.
type Area struct {
	GeoID     string
	Name      string
	BaseName  string
	LayerID   int
	LayerName string

	// Attributes holds the feature's fields keyed by Data API geography
	// names ("state", "county", ...). Loaded lazily.
	Attributes map[string]string

	// Geometry is the area's boundary in EPSG:4326. Loaded lazily.
	Geometry geom.T

	client *Client
}

func (a *Area) String() string {
	return fmt.Sprintf("%s (GEOID=%s)", a.Name, a.GeoID)
}

// IsNational reports whether this is the synthetic national area.
func (a *Area) IsNational() bool {
	return a.GeoID == nationalGeoID
}

// nationalGeoID is the GEO_ID the Data API uses for the whole country.
const nationalGeoID = "0100000US"

// USCartographic is the synthetic area covering the entire United States,
// used as the default query extent. Its geometry can be populated from the
// cartographic boundary file; without it, national queries skip spatial
// filtering entirely.
var USCartographic = &Area{
	GeoID:     nationalGeoID,
	Name:      "United States (cartographic boundary)",
	BaseName:  "United States",
	LayerName: "US",
}

// LoadAttributes fetches the area's full attribute set from its layer.
func (a *Area) LoadAttributes(ctx context.Context) error {
	if a.IsNational() || a.Attributes != nil {
		return nil
	}
	if a.client == nil {
		return eris.New("tigerweb: area has no client")
	}

	params := url.Values{
		"where":          {fmt.Sprintf("GEOID='%s'", a.GeoID)},
		"outFields":      {"*"},
		"returnGeometry": {"false"},
		"f":              {"geojson"},
	}
	body, err := a.client.Get(ctx, fmt.Sprintf("%d/query", a.LayerID), params)
	if err != nil {
		return err
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return eris.Wrap(err, "tigerweb: decode area attributes")
	}
	if len(fc.Features) == 0 {
		return &NoMatchError{Query: a.GeoID, Layer: a.LayerName}
	}

	feature := fc.Features[0]
	a.Attributes = make(map[string]string, len(feature.Properties))
	for field, value := range feature.Properties {
		s := propString(value)
		switch field {
		case "NAME":
			a.Name = s
		case "BASENAME":
			a.BaseName = s
		default:
			a.Attributes[canonicalAttrName(field)] = s
		}
	}
	return nil
}

// LoadGeometry fetches the area's boundary geometry.
func (a *Area) LoadGeometry(ctx context.Context) error {
	if a.Geometry != nil || a.IsNational() {
		return nil
	}
	if a.client == nil {
		return eris.New("tigerweb: area has no client")
	}

	params := url.Values{
		"where":             {fmt.Sprintf("GEOID='%s'", a.GeoID)},
		"outFields":         {""},
		"returnGeometry":    {"true"},
		"geometryPrecision": {"6"},
		"outSR":             {"4326"},
		"f":                 {"geojson"},
	}
	body, err := a.client.Get(ctx, fmt.Sprintf("%d/query", a.LayerID), params)
	if err != nil {
		return err
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return eris.Wrap(err, "tigerweb: decode area geometry")
	}
	if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
		return &NoMatchError{Query: a.GeoID, Layer: a.LayerName}
	}
	a.Geometry = fc.Features[0].Geometry
	return nil
}

// Bounds returns the area's bounding box, or nil when no geometry is
// loaded.
func (a *Area) Bounds() *geom.Bounds {
	if a.Geometry == nil {
		return nil
	}
	return a.Geometry.Bounds()
}

// propString renders a GeoJSON property value as the string the Data API
// expects: integers without exponents, everything else via fmt.
func propString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
