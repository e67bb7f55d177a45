package tigerweb

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// AreaCollection holds the layers of one map service and resolves areas
// against them.
type AreaCollection struct {
	client *Client

	byName map[string]*Layer
	names  []string
}

// NewAreaCollection discovers the map service's layers. Label layers are
// skipped; they duplicate their geometry layer with annotation features.
func NewAreaCollection(ctx context.Context, client *Client) (*AreaCollection, error) {
	body, err := client.Get(ctx, "layers", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Layers []struct {
			ID     int    `json:"id"`
			Name   string `json:"name"`
			Fields []struct {
				Name string `json:"name"`
			} `json:"fields"`
		} `json:"layers"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "tigerweb: decode layers")
	}

	c := &AreaCollection{
		client: client,
		byName: make(map[string]*Layer, len(out.Layers)),
	}
	for _, l := range out.Layers {
		if strings.Contains(l.Name, "Labels") {
			continue
		}
		layer := &Layer{ID: l.ID, Name: l.Name, client: client}
		for _, f := range l.Fields {
			layer.Fields = append(layer.Fields, f.Name)
		}
		c.byName[l.Name] = layer
		c.names = append(c.names, l.Name)
	}
	sort.Strings(c.names)

	zap.L().Debug("discovered layers", zap.Int("count", len(c.names)))
	return c, nil
}

// LayerNames lists the discovered layer names, sorted.
func (c *AreaCollection) LayerNames() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// GetLayer resolves a layer by name, fuzzily. "congressional district"
// finds "119th Congressional Districts".
func (c *AreaCollection) GetLayer(name string) (*Layer, error) {
	if l, ok := c.byName[name]; ok {
		return l, nil
	}

	counts := map[string]int{}
	candidates := make(map[string]string, len(c.names))
	for _, n := range c.names {
		candidates[n] = n
		for _, token := range tokenize(n) {
			counts[token]++
		}
	}
	s := newScorer(counts, len(c.names))

	matches := rankMatches(name, candidates, s, 0.9)
	if len(matches) == 0 {
		return nil, &NoMatchError{Query: name, Layer: "layers", Examples: c.names[:min(5, len(c.names))]}
	}
	if len(matches) > 1 && matches[0].score-matches[1].score < 0.05 {
		names := []string{matches[0].name, matches[1].name}
		return nil, &AmbiguousNameError{Query: name, Candidates: names}
	}
	return c.byName[matches[0].geoID], nil
}

// getLayers resolves each name, skipping names the service lacks. Some
// vintages carry "Incorporated Places" only, others add "Census Designated
// Places"; helpers pass every spelling they accept.
func (c *AreaCollection) getLayers(names ...string) []*Layer {
	var layers []*Layer
	for _, name := range names {
		if l, err := c.GetLayer(name); err == nil {
			layers = append(layers, l)
		}
	}
	return layers
}

// areaFromLayers tries each layer in turn until one resolves the name.
func (c *AreaCollection) areaFromLayers(ctx context.Context, name string, layers []*Layer) (*Area, error) {
	if len(layers) == 0 {
		return nil, eris.New("tigerweb: no matching layer in this map service")
	}
	var lastErr error
	for _, l := range layers {
		area, err := l.AreaByName(ctx, name)
		if err == nil {
			return area, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Region resolves a census region by name.
func (c *AreaCollection) Region(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("Census Regions"))
}

// Division resolves a census division by name.
func (c *AreaCollection) Division(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("Census Divisions"))
}

// State resolves a state by name or postal abbreviation.
func (c *AreaCollection) State(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("States"))
}

// County resolves a county by name; append the state to disambiguate,
// e.g. "Washington County, Missouri" or "Washington County, MO".
func (c *AreaCollection) County(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("Counties"))
}

// Tract resolves a census tract by name, e.g. "Census Tract 1, Suffolk
// County, Massachusetts".
func (c *AreaCollection) Tract(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("Census Tracts"))
}

// BlockGroup resolves a block group by name.
func (c *AreaCollection) BlockGroup(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("Census Block Groups"))
}

// Place resolves a place, trying incorporated places, census designated
// places, and county subdivisions in that order.
func (c *AreaCollection) Place(ctx context.Context, name string) (*Area, error) {
	layers := c.getLayers("Incorporated Places", "Census Designated Places", "County Subdivisions")
	return c.areaFromLayers(ctx, name, layers)
}

// MSA resolves a metropolitan or micropolitan statistical area by name.
func (c *AreaCollection) MSA(ctx context.Context, name string) (*Area, error) {
	layers := c.getLayers("Metropolitan Statistical Areas", "Micropolitan Statistical Areas")
	return c.areaFromLayers(ctx, name, layers)
}

// CSA resolves a combined statistical area by name.
func (c *AreaCollection) CSA(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("Combined Statistical Areas"))
}

// CongressionalDistrict resolves a congressional district by name, e.g.
// "Congressional District 2, New York".
func (c *AreaCollection) CongressionalDistrict(ctx context.Context, name string) (*Area, error) {
	return c.areaFromLayers(ctx, name, c.getLayers("Congressional Districts"))
}

// ZCTA resolves a ZIP code tabulation area by its five-digit code.
func (c *AreaCollection) ZCTA(ctx context.Context, code string) (*Area, error) {
	layers := c.getLayers("2020 Census ZIP Code Tabulation Areas", "ZIP Code Tabulation Areas")
	if len(layers) == 0 {
		return nil, eris.New("tigerweb: no matching layer in this map service")
	}
	var lastErr error
	for _, l := range layers {
		area, err := l.AreaByGeoID(ctx, code)
		if err == nil {
			return area, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Area resolves a name against a specific layer.
func (c *AreaCollection) Area(ctx context.Context, layerName, name string) (*Area, error) {
	layer, err := c.GetLayer(layerName)
	if err != nil {
		return nil, err
	}
	return layer.AreaByName(ctx, name)
}

// FeaturesWithin fetches the features of the named layer that fall inside
// the area. When within is the national area its (possibly unset) geometry
// means no spatial filter: every feature of the layer qualifies, plus the
// national feature itself so a merged result still carries a US row.
//
// areaThreshold in (0, 1] drops features whose bounding box overlaps the
// area's bounding box by less than that fraction, cutting units that only
// graze the boundary. Zero keeps everything the server returns.
func (c *AreaCollection) FeaturesWithin(ctx context.Context, within *Area, layerName string, areaThreshold float64) ([]Feature, error) {
	layer, err := c.GetLayer(layerName)
	if err != nil {
		return nil, err
	}

	var filter geom.T
	if within != nil && !within.IsNational() {
		if within.Geometry == nil {
			if err := within.LoadGeometry(ctx); err != nil {
				return nil, err
			}
		}
		filter = within.Geometry
	} else if within != nil && within.Geometry != nil {
		filter = within.Geometry
	}

	features, err := layer.Features(ctx, FeatureQuery{Geometry: filter})
	if err != nil {
		return nil, err
	}

	if areaThreshold > 0 && filter != nil {
		geometries, err := layer.featureGeometries(ctx, filter, len(features))
		if err != nil {
			return nil, err
		}
		clip := filter.Bounds()
		kept := features[:0]
		for _, f := range features {
			g, ok := geometries[f.GeoID]
			if !ok || g == nil {
				continue
			}
			if boundsOverlapRatio(g.Bounds(), clip) >= areaThreshold {
				f.Geometry = g
				kept = append(kept, f)
			}
		}
		features = kept
	}

	if within != nil && within.IsNational() {
		features = append(features, Feature{
			GeoID:      nationalGeoID,
			Name:       USCartographic.Name,
			Attributes: map[string]string{},
			Geometry:   USCartographic.Geometry,
		})
	}

	zap.L().Info("features within area",
		zap.String("layer", layer.Name),
		zap.Int("count", len(features)))
	return features, nil
}

// boundsOverlapRatio returns the share of b's bounding box area that lies
// inside clip. A degenerate box (a point) counts as fully inside when its
// location is.
func boundsOverlapRatio(b, clip *geom.Bounds) float64 {
	if b == nil || clip == nil {
		return 0
	}
	w := b.Max(0) - b.Min(0)
	h := b.Max(1) - b.Min(1)
	iw := min(b.Max(0), clip.Max(0)) - max(b.Min(0), clip.Min(0))
	ih := min(b.Max(1), clip.Max(1)) - max(b.Min(1), clip.Min(1))
	if iw < 0 || ih < 0 {
		return 0
	}
	if w <= 0 || h <= 0 {
		return 1
	}
	return (iw * ih) / (w * h)
}
