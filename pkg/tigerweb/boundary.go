package tigerweb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/internal/fetcher"
	"github.com/singerep/censaurus/internal/resilience"
)

// boundaryURLTemplate points at the cartographic boundary shapefiles. The
// 1:5,000,000 nation file is ~1 MB and plenty for bounding-box work.
const boundaryURLTemplate = "ftp://ftp2.census.gov/geo/tiger/GENZ%d/shp/cb_%d_us_nation_5m.zip"

// LoadNationalBoundary downloads the cartographic boundary file for the
// given vintage and installs its geometry on USCartographic. Call it once
// before running national spatial queries; everything works without it,
// national queries just skip spatial filtering.
func LoadNationalBoundary(ctx context.Context, year int) error {
	g, err := FetchBoundary(ctx, year)
	if err != nil {
		return err
	}
	USCartographic.Geometry = g
	return nil
}

// FetchBoundary downloads and parses the national cartographic boundary
// shapefile for the given vintage.
func FetchBoundary(ctx context.Context, year int) (geom.T, error) {
	tmpDir, err := os.MkdirTemp("", "censaurus-boundary-*")
	if err != nil {
		return nil, eris.Wrap(err, "tigerweb: temp dir")
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	ftpURL := fmt.Sprintf(boundaryURLTemplate, year, year)
	zipPath := filepath.Join(tmpDir, "boundary.zip")

	f := fetcher.NewFTPFetcher(fetcher.FTPOptions{})
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("tigerweb", "download boundary")
	var n int64
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		var derr error
		n, derr = f.DownloadToFile(ctx, ftpURL, zipPath)
		return derr
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tigerweb: download boundary %d", year)
	}
	zap.L().Debug("downloaded boundary file",
		zap.Int("year", year),
		zap.Int64("bytes", n))

	extracted, err := fetcher.ExtractZIP(zipPath, tmpDir)
	if err != nil {
		return nil, err
	}

	var shpPath string
	for _, p := range extracted {
		if strings.HasSuffix(p, ".shp") {
			shpPath = p
			break
		}
	}
	if shpPath == "" {
		return nil, eris.Errorf("tigerweb: no shapefile in boundary archive for %d", year)
	}

	return parseBoundaryShapefile(shpPath)
}

// parseBoundaryShapefile reads every polygon in the shapefile into one
// MultiPolygon. Each shapefile part becomes a single-ring polygon; holes
// are not distinguished, which is fine for bounding-box filtering.
func parseBoundaryShapefile(shpPath string) (geom.T, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tigerweb: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	mp := geom.NewMultiPolygon(geom.XY)
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}
		for i, start := range poly.Parts {
			end := len(poly.Points)
			if i+1 < len(poly.Parts) {
				end = int(poly.Parts[i+1])
			}
			ring := make([]geom.Coord, 0, end-int(start))
			for _, pt := range poly.Points[start:end] {
				ring = append(ring, geom.Coord{pt.X, pt.Y})
			}
			if len(ring) < 4 {
				continue
			}
			p := geom.NewPolygon(geom.XY)
			if _, err := p.SetCoords([][]geom.Coord{ring}); err != nil {
				return nil, eris.Wrap(err, "tigerweb: build polygon")
			}
			if err := mp.Push(p); err != nil {
				return nil, eris.Wrap(err, "tigerweb: collect polygon")
			}
		}
	}

	if mp.NumPolygons() == 0 {
		return nil, eris.Errorf("tigerweb: shapefile %s held no polygons", shpPath)
	}
	return mp, nil
}
