package census

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/pkg/tigerweb"
)

// Query describes one data request against a dataset.
type Query struct {
	// Within restricts results to areas inside these resolved areas.
	// Defaults to the whole country.
	Within []*tigerweb.Area

	// Variables names the variables (or their attribute variants) to fetch.
	Variables []string

	// Groups adds every variable of the named groups.
	Groups []string

	// Rename maps variable names to output column names.
	Rename map[string]string

	// ReturnGeometry also fetches each unit's boundary from TIGERWeb. This
	// forces the query through the feature-stitching path.
	ReturnGeometry bool

	// AreaThreshold drops units whose bounding box overlaps the query area
	// by less than this fraction. Only meaningful on the stitching path.
	AreaThreshold float64

	// Extra adds raw API parameters (e.g. time=...) to every request.
	Extra url.Values
}

// Result is a query's table plus, when requested, the per-unit boundaries
// keyed by GEO_ID.
type Result struct {
	*Table
	Geometries map[string]geom.T
}

// US queries the national level.
func (d *Dataset) US(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "us", nil, q)
}

// Regions queries census regions.
func (d *Dataset) Regions(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "region", []string{"Census Regions"}, q)
}

// Divisions queries census divisions.
func (d *Dataset) Divisions(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "division", []string{"Census Divisions"}, q)
}

// States queries states.
func (d *Dataset) States(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "state", []string{"States"}, q)
}

// Counties queries counties.
func (d *Dataset) Counties(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "county", []string{"Counties"}, q)
}

// CountySubdivisions queries county subdivisions.
func (d *Dataset) CountySubdivisions(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "county subdivision", []string{"County Subdivisions"}, q)
}

// Tracts queries census tracts.
func (d *Dataset) Tracts(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "tract", []string{"Census Tracts"}, q)
}

// BlockGroups queries census block groups.
func (d *Dataset) BlockGroups(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "block group", []string{"Census Block Groups"}, q)
}

// Blocks queries census blocks.
func (d *Dataset) Blocks(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "block", []string{"Census Blocks"}, q)
}

// Places queries incorporated places and census designated places.
func (d *Dataset) Places(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "place", []string{"Census Designated Places", "Incorporated Places"}, q)
}

// MSAs queries metropolitan and micropolitan statistical areas.
func (d *Dataset) MSAs(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "metropolitan statistical area/micropolitan statistical area",
		[]string{"Metropolitan Statistical Areas", "Micropolitan Statistical Areas"}, q)
}

// CSAs queries combined statistical areas.
func (d *Dataset) CSAs(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "combined statistical area", []string{"Combined Statistical Areas"}, q)
}

// CongressionalDistricts queries congressional districts.
func (d *Dataset) CongressionalDistricts(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "congressional district", []string{"Congressional Districts"}, q)
}

// VotingDistricts queries voting districts.
func (d *Dataset) VotingDistricts(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "voting district", []string{"Voting Districts"}, q)
}

// ZCTAs queries ZIP code tabulation areas.
func (d *Dataset) ZCTAs(ctx context.Context, q Query) (*Result, error) {
	return d.query(ctx, "zip code tabulation area",
		[]string{"2020 Census ZIP Code Tabulation Areas", "ZIP Code Tabulation Areas"}, q)
}

// OtherGeography queries any geography level the dataset supports. The
// layer names are only needed when the level cannot be resolved natively
// inside one hierarchy, or when geometry is requested.
func (d *Dataset) OtherGeography(ctx context.Context, level string, layerNames []string, q Query) (*Result, error) {
	return d.query(ctx, level, layerNames, q)
}

func (d *Dataset) query(ctx context.Context, target string, layerNames []string, q Query) (*Result, error) {
	variables, varParams, err := d.variables.buildVariableParams(q.Variables, q.Groups)
	if err != nil {
		return nil, err
	}

	geography, geoParams, stitched, err := d.resolveGeography(ctx, target, layerNames, q)
	if err != nil {
		return nil, err
	}

	reqs := make([]Request, 0, len(geoParams)*len(varParams))
	for _, gp := range geoParams {
		for _, vp := range varParams {
			params := url.Values{}
			for k, vs := range gp {
				params[k] = vs
			}
			for k, vs := range vp {
				params[k] = vs
			}
			for k, vs := range q.Extra {
				params[k] = vs
			}
			reqs = append(reqs, Request{Params: params})
		}
	}

	zap.L().Info("executing query",
		zap.String("product", d.Key.id()),
		zap.String("target", target),
		zap.Int("requests", len(reqs)))

	responses, err := d.client.GetMany(ctx, reqs)
	if err != nil {
		return nil, err
	}

	tables := make([]*Table, 0, len(responses))
	for _, resp := range responses {
		if resp.NoContent() {
			// The Bureau answers 204 when a combination has no data.
			table := NewTable(nil)
			table.SetGeography(geography)
			return &Result{Table: table}, nil
		}
		table, err := ParseTable(resp.Body)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}

	table, err := mergeOnGeoID(tables)
	if err != nil {
		return nil, err
	}

	result := &Result{Table: table}
	if stitched != nil {
		if err := d.clipToFeatures(result, stitched, q.ReturnGeometry); err != nil {
			return nil, err
		}
	}

	result.SetGeography(geography)
	for _, col := range result.Columns() {
		if v := variables.Get(col); v != nil {
			result.BindVariable(col, v)
		}
	}
	for from, to := range q.Rename {
		if result.HasColumn(from) {
			if err := result.RenameColumn(from, to); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// resolveGeography turns the query's area constraint into one or more sets
// of for/in parameters. The native path covers a single containing area
// whose level appears among the target hierarchy's filters; everything else
// goes through TIGERWeb feature stitching.
func (d *Dataset) resolveGeography(ctx context.Context, target string, layerNames []string, q Query) (*Geography, []url.Values, []tigerweb.Feature, error) {
	within := q.Within
	if len(within) == 0 {
		within = []*tigerweb.Area{tigerweb.USCartographic}
	}
	for _, area := range within {
		if err := area.LoadAttributes(ctx); err != nil {
			return nil, nil, nil, err
		}
	}

	if !q.ReturnGeometry && len(within) == 1 {
		geography, params, err := d.nativeGeographyParams(target, within[0])
		if err == nil {
			return geography, []url.Values{params}, nil, nil
		}
		if target == "us" {
			return nil, nil, nil, err
		}
	}

	if len(layerNames) == 0 {
		return nil, nil, nil, eris.Errorf(
			"census: %q cannot be resolved inside a single hierarchy here; a geography layer is required", target)
	}

	areas, err := d.Areas(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	var features []tigerweb.Feature
	for _, area := range within {
		for _, layerName := range layerNames {
			fs, err := areas.FeaturesWithin(ctx, area, layerName, q.AreaThreshold)
			if err != nil {
				continue
			}
			features = append(features, fs...)
		}
	}
	if len(features) == 0 {
		return nil, nil, nil, eris.Errorf("census: no %s features found inside the query area", target)
	}

	attrMaps := make([]map[string]string, 0, len(features))
	for _, f := range features {
		attrMaps = append(attrMaps, f.Attributes)
	}
	geography, paramsList, err := d.geographies.buildParamsForFeatures(target, attrMaps)
	if err != nil {
		return nil, nil, nil, err
	}
	return geography, paramsList, features, nil
}

// nativeGeographyParams tries to express "target within area" directly as
// one hierarchy's filters, without consulting TIGERWeb.
func (d *Dataset) nativeGeographyParams(target string, within *tigerweb.Area) (*Geography, url.Values, error) {
	matches, err := d.geographies.GetByName(target)
	if err != nil {
		return nil, nil, err
	}

	withinLevel := tigerweb.LayerGeoLevel[within.LayerName]
	var lastErr error
	for _, geography := range matches {
		filters := map[string]string{}
		for _, level := range geography.Requires {
			if v, ok := within.Attributes[level]; ok {
				filters[level] = v
			}
		}
		// The containing area must itself sit at one of the hierarchy's
		// filter levels, otherwise pinning its parents would include
		// neighbors inside the same parents.
		if !within.IsNational() {
			if _, ok := filters[withinLevel]; !ok {
				continue
			}
		}
		params, buildErr := geography.BuildParams(filters)
		if buildErr != nil {
			lastErr = buildErr
			continue
		}
		return geography, params, nil
	}
	if lastErr == nil {
		lastErr = &HierarchyError{Reason: "no hierarchy matches the containing area"}
	}
	return nil, nil, lastErr
}

// clipToFeatures keeps only the rows whose derived GEOID appears among the
// stitched TIGERWeb features, attaching geometry when requested.
func (d *Dataset) clipToFeatures(result *Result, features []tigerweb.Feature, returnGeometry bool) error {
	table := result.Table
	if !table.HasColumn("GEO_ID") {
		return eris.New("census: stitched result is missing GEO_ID")
	}

	byGeoID := make(map[string]tigerweb.Feature, len(features))
	for _, f := range features {
		byGeoID[f.GeoID] = f
	}

	clipped := NewTable(table.Columns())
	var geometries map[string]geom.T
	if returnGeometry {
		geometries = map[string]geom.T{}
	}

	geoIDs := table.Column("GEO_ID")
	for i := 0; i < table.Len(); i++ {
		fullID := geoIDs[i]
		shortID := fullID
		if fullID != tigerweb.USCartographic.GeoID {
			if _, after, found := strings.Cut(fullID, "US"); found {
				shortID = after
			}
		}
		f, ok := byGeoID[shortID]
		if !ok {
			continue
		}
		if err := clipped.AppendRow(table.Row(i)); err != nil {
			return err
		}
		if returnGeometry {
			geometries[fullID] = f.Geometry
		}
	}

	result.Table = clipped
	result.Geometries = geometries
	return nil
}
