package tigerweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/internal/states"
)

// pageSize is the record count requested per geometry page. TIGERWeb caps
// result sets server-side, so geometry fetches page on resultOffset.
const pageSize = 100

// Feature is one row of a layer query: census-keyed attributes plus an
// optional boundary.
type Feature struct {
	GeoID      string
	Name       string
	Attributes map[string]string
	Geometry   geom.T
}

// FeatureQuery controls a layer feature fetch.
type FeatureQuery struct {
	// OutFields selects attribute fields; "*" (default) fetches all.
	OutFields string

	// Geometry restricts results to features intersecting this shape.
	Geometry geom.T

	// ReturnGeometry also fetches each feature's boundary, paging as
	// needed.
	ReturnGeometry bool
}

// Layer is one layer of a TIGERWeb map service (States, Counties, ...).
type Layer struct {
	ID     int
	Name   string
	Fields []string

	client *Client
}

func (l *Layer) String() string {
	return fmt.Sprintf("MapService Layer (%s)", l.Name)
}

func spatialParams(g geom.T) url.Values {
	params := url.Values{}
	if g == nil {
		return params
	}
	b := g.Bounds()
	params.Set("geometry", fmt.Sprintf("%f,%f,%f,%f", b.Min(0), b.Min(1), b.Max(0), b.Max(1)))
	params.Set("geometryType", "esriGeometryEnvelope")
	params.Set("inSR", "4326")
	params.Set("spatialRel", "esriSpatialRelIntersects")
	return params
}

// Features fetches the layer's features matching the query.
func (l *Layer) Features(ctx context.Context, q FeatureQuery) ([]Feature, error) {
	outFields := q.OutFields
	if outFields == "" {
		outFields = "*"
	}

	params := url.Values{
		"where":          {"1=1"},
		"outFields":      {outFields},
		"returnGeometry": {"false"},
		"f":              {"geojson"},
	}
	for k, vs := range spatialParams(q.Geometry) {
		params[k] = vs
	}

	body, err := l.client.Get(ctx, fmt.Sprintf("%d/query", l.ID), params)
	if err != nil {
		return nil, err
	}
	features, err := decodeFeatures(body)
	if err != nil {
		return nil, err
	}

	if q.ReturnGeometry {
		geometries, err := l.featureGeometries(ctx, q.Geometry, len(features))
		if err != nil {
			return nil, err
		}
		for i := range features {
			features[i].Geometry = geometries[features[i].GeoID]
		}
	}
	return features, nil
}

// featureCount asks the server how many features match the spatial filter.
func (l *Layer) featureCount(ctx context.Context, g geom.T) (int, error) {
	params := url.Values{
		"where":           {"1=1"},
		"returnCountOnly": {"true"},
		"f":               {"json"},
	}
	for k, vs := range spatialParams(g) {
		params[k] = vs
	}
	body, err := l.client.Get(ctx, fmt.Sprintf("%d/query", l.ID), params)
	if err != nil {
		return 0, err
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, eris.Wrap(err, "tigerweb: decode feature count")
	}
	return out.Count, nil
}

// featureGeometries pages through the layer fetching GEOID + geometry for
// every matching feature.
func (l *Layer) featureGeometries(ctx context.Context, g geom.T, expected int) (map[string]geom.T, error) {
	count := expected
	if serverCount, err := l.featureCount(ctx, g); err == nil && serverCount > 0 {
		count = serverCount
	}

	base := url.Values{
		"where":             {"1=1"},
		"outFields":         {"GEOID"},
		"returnGeometry":    {"true"},
		"geometryPrecision": {"6"},
		"outSR":             {"4326"},
		"f":                 {"geojson"},
	}
	for k, vs := range spatialParams(g) {
		base[k] = vs
	}

	pages := 1 + count/pageSize
	requests := make([]url.Values, 0, pages)
	for page := 0; page < pages; page++ {
		params := url.Values{}
		for k, vs := range base {
			params[k] = vs
		}
		params.Set("resultRecordCount", fmt.Sprintf("%d", pageSize))
		params.Set("resultOffset", fmt.Sprintf("%d", page*pageSize))
		requests = append(requests, params)
	}

	geometries := make(map[string]geom.T, count)
	for _, params := range requests {
		body, err := l.client.Get(ctx, fmt.Sprintf("%d/query", l.ID), params)
		if err != nil {
			return nil, err
		}
		features, err := decodeFeatures(body)
		if err != nil {
			return nil, err
		}
		for _, f := range features {
			geometries[f.GeoID] = f.Geometry
		}
	}
	return geometries, nil
}

// AreaByGeoID resolves an area by exact GEOID.
func (l *Layer) AreaByGeoID(ctx context.Context, geoID string) (*Area, error) {
	features, err := l.Features(ctx, FeatureQuery{OutFields: "GEOID"})
	if err != nil {
		return nil, err
	}

	var examples []string
	for _, f := range features {
		if f.GeoID == geoID {
			area := &Area{GeoID: geoID, LayerID: l.ID, LayerName: l.Name, client: l.client}
			if err := area.LoadAttributes(ctx); err != nil {
				return nil, err
			}
			zap.L().Info("matched GEOID",
				zap.String("geoid", geoID),
				zap.String("layer", l.Name))
			return area, nil
		}
		if len(examples) < 5 {
			examples = append(examples, f.GeoID)
		}
	}
	return nil, &NoMatchError{Query: geoID, Layer: l.Name, Examples: examples}
}

// AreaByName resolves an area by fuzzy name match. State abbreviations are
// expanded and candidates get their state name appended, so "Washington,
// MO" and "Washington County, Missouri" resolve to different units.
func (l *Layer) AreaByName(ctx context.Context, name string) (*Area, error) {
	parsed := parseName(name)

	features, err := l.Features(ctx, FeatureQuery{})
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, &NoMatchError{Query: name, Layer: l.Name}
	}

	candidates := make(map[string]string, len(features))
	counts := map[string]int{}
	for _, f := range features {
		detailed := l.detailedName(f)
		candidates[f.GeoID] = detailed
		for _, token := range tokenize(detailed) {
			counts[token]++
		}
	}
	s := newScorer(counts, len(features))

	matches := rankMatches(parsed, candidates, s, 0.8)
	if len(matches) > 20 {
		matches = matches[:20]
	}

	if len(matches) == 0 {
		var examples []string
		for _, f := range features[:min(5, len(features))] {
			examples = append(examples, l.detailedName(f))
		}
		return nil, &NoMatchError{Query: name, Layer: l.Name, Examples: examples}
	}

	accept := func(m match) (*Area, error) {
		zap.L().Info("matched name",
			zap.String("query", name),
			zap.String("match", m.name),
			zap.String("geoid", m.geoID),
			zap.String("layer", l.Name))
		area := &Area{GeoID: m.geoID, LayerID: l.ID, LayerName: l.Name, client: l.client}
		if err := area.LoadAttributes(ctx); err != nil {
			return nil, err
		}
		return area, nil
	}

	if len(matches) == 1 || matches[0].score >= 0.99 {
		return accept(matches[0])
	}
	if matches[0].score > 0.95 && matches[0].score-matches[1].score > 0.05 {
		return accept(matches[0])
	}

	// Try completing the query with one token the candidates carry but the
	// query lacks ("county", a state name...). Accept only if exactly one
	// completion produces a confident match.
	if m, ok := l.completeQuery(parsed, matches, candidates, s); ok {
		return accept(m)
	}

	names := make([]string, 0, min(10, len(matches)))
	for _, m := range matches[:min(10, len(matches))] {
		names = append(names, fmt.Sprintf("%s (GEOID=%s)", m.name, m.geoID))
	}
	return nil, &AmbiguousNameError{Query: name, Candidates: names}
}

// completeQuery retries the match with each token that appears among the
// best candidates but not in the query.
func (l *Layer) completeQuery(parsed string, matches []match, candidates map[string]string, s *scorer) (match, bool) {
	queryTokens := map[string]bool{}
	for _, t := range tokenize(parsed) {
		queryTokens[t] = true
	}

	missing := map[string]bool{}
	bestCandidates := map[string]string{}
	for _, m := range matches {
		bestCandidates[m.geoID] = candidates[m.geoID]
		for _, t := range tokenize(m.name) {
			if !queryTokens[t] {
				missing[t] = true
			}
		}
	}

	var found []match
	for token := range missing {
		augmented := parsed + " " + token
		rescored := rankMatches(augmented, bestCandidates, s, 0.8)
		if len(rescored) == 0 {
			continue
		}
		top := rescored[0]
		if (len(rescored) == 1 && top.score > 0.95) || top.score >= 0.98 {
			found = append(found, top)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return match{}, false
}

// detailedName builds the matching name for a feature: the parsed NAME,
// with the full state name appended when the feature sits inside a state.
func (l *Layer) detailedName(f Feature) string {
	detailed := parseName(f.Name)
	if l.Name == "States" {
		return detailed
	}
	if fips, ok := f.Attributes["state"]; ok {
		if full, found := stateNameForFIPS(fips); found {
			detailed += ", " + full
		}
	}
	return detailed
}

// decodeFeatures parses a GeoJSON feature collection into Features with
// census-keyed attributes.
func decodeFeatures(body []byte) ([]Feature, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, eris.Wrap(err, "tigerweb: decode features")
	}

	features := make([]Feature, 0, len(fc.Features))
	for _, raw := range fc.Features {
		f := Feature{
			Attributes: make(map[string]string, len(raw.Properties)),
			Geometry:   raw.Geometry,
		}
		for field, value := range raw.Properties {
			s := propString(value)
			switch field {
			case "GEOID":
				f.GeoID = s
			case "NAME":
				f.Name = s
			case "BASENAME":
			default:
				f.Attributes[canonicalAttrName(field)] = s
			}
		}
		features = append(features, f)
	}
	return features, nil
}

// stateNameForFIPS returns the full state name for a FIPS code string.
func stateNameForFIPS(fips string) (string, bool) {
	n := 0
	for _, ch := range strings.TrimSpace(fips) {
		if ch < '0' || ch > '9' {
			return "", false
		}
		n = n*10 + int(ch-'0')
	}
	s, ok := states.ByFIPS(n)
	if !ok {
		return "", false
	}
	return s.Name, true
}
