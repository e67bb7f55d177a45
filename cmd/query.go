package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/pkg/census"
	"github.com/singerep/censaurus/pkg/clean"
	"github.com/singerep/censaurus/pkg/tigerweb"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a Census Data API query",
	Long: `Fetches variables for a geography level, optionally restricted to named
areas, and writes the merged table to CSV or XLSX.

Examples:
  censaurus query --product acs5 --year 2021 --geography state --variables B01001_001E
  censaurus query --geography tract --within "Counties:Cook County" --groups B02001 --format xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		product, _ := cmd.Flags().GetString("product")
		year, _ := cmd.Flags().GetInt("year")
		geography, _ := cmd.Flags().GetString("geography")
		variables, _ := cmd.Flags().GetStringSlice("variables")
		groups, _ := cmd.Flags().GetStringSlice("groups")
		withins, _ := cmd.Flags().GetStringArray("within")
		threshold, _ := cmd.Flags().GetFloat64("area-threshold")
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		rulesPath, _ := cmd.Flags().GetString("rename-rules")

		if len(variables) == 0 && len(groups) == 0 {
			return eris.New("cmd: query needs --variables or --groups")
		}
		if format != "csv" && format != "xlsx" {
			return eris.Errorf("cmd: unknown format %q (csv or xlsx)", format)
		}

		runID := uuid.New().String()
		log := zap.L().With(zap.String("run_id", runID))
		start := time.Now()

		opts, cleanup := datasetOptions()
		defer cleanup()

		ds, err := openDataset(ctx, product, year, opts...)
		if err != nil {
			return err
		}

		q := census.Query{
			Variables:     variables,
			Groups:        groups,
			AreaThreshold: threshold,
		}
		q.Within, err = resolveWithins(ctx, ds, withins)
		if err != nil {
			return err
		}
		prepareNationalBoundary(ctx, q.Within, threshold)

		log.Info("query start",
			zap.String("dataset", ds.String()),
			zap.String("geography", geography),
			zap.Int("variables", len(variables)),
			zap.Int("groups", len(groups)),
		)

		result, err := runGeographyQuery(ctx, ds, geography, q)
		if err != nil {
			return eris.Wrap(err, "query")
		}

		if rulesPath != "" {
			renamer, err := clean.LoadRenamerRules(rulesPath)
			if err != nil {
				return eris.Wrap(err, "query: rename rules")
			}
			if err := renamer.Rename(result.Table); err != nil {
				return eris.Wrap(err, "query: rename")
			}
		}

		if out == "" {
			out = fmt.Sprintf("query-%s.%s", runID[:8], format)
		}
		if err := writeResult(result.Table, out, format); err != nil {
			return err
		}

		log.Info("query complete",
			zap.Int("rows", result.Len()),
			zap.Int("columns", len(result.Columns())),
			zap.String("out", out),
			zap.Duration("elapsed", time.Since(start)),
		)
		fmt.Fprintf(os.Stderr, "Wrote %d rows to %s\n", result.Len(), out)
		return nil
	},
}

// loadNationalBoundary is stubbed in tests to avoid the FTP download.
var loadNationalBoundary = tigerweb.LoadNationalBoundary

// prepareNationalBoundary fetches the cartographic national outline when a
// spatial filter applies at country scope. The query still runs without
// it, national restrictions just skip the bounding-box filter.
func prepareNationalBoundary(ctx context.Context, within []*tigerweb.Area, threshold float64) {
	if threshold <= 0 || tigerweb.USCartographic.Geometry != nil {
		return
	}
	national := len(within) == 0
	for _, a := range within {
		if a.IsNational() {
			national = true
		}
	}
	if !national {
		return
	}
	if err := loadNationalBoundary(ctx, cfg.TIGERWeb.BoundaryYear); err != nil {
		zap.L().Warn("national boundary unavailable, spatial filter skipped",
			zap.Int("year", cfg.TIGERWeb.BoundaryYear),
			zap.Error(err))
	}
}

// resolveWithins parses "Layer:Name" specs into resolved areas.
func resolveWithins(ctx context.Context, ds *census.Dataset, specs []string) ([]*tigerweb.Area, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	areas, err := ds.Areas(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*tigerweb.Area, 0, len(specs))
	for _, spec := range specs {
		layer, name, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, eris.Errorf("cmd: --within wants \"Layer:Name\", got %q", spec)
		}
		a, err := areas.Area(ctx, strings.TrimSpace(layer), strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func runGeographyQuery(ctx context.Context, ds *census.Dataset, geography string, q census.Query) (*census.Result, error) {
	switch normalizeGeography(geography) {
	case "us":
		return ds.US(ctx, q)
	case "region":
		return ds.Regions(ctx, q)
	case "division":
		return ds.Divisions(ctx, q)
	case "state":
		return ds.States(ctx, q)
	case "county":
		return ds.Counties(ctx, q)
	case "county subdivision":
		return ds.CountySubdivisions(ctx, q)
	case "tract":
		return ds.Tracts(ctx, q)
	case "block group":
		return ds.BlockGroups(ctx, q)
	case "block":
		return ds.Blocks(ctx, q)
	case "place":
		return ds.Places(ctx, q)
	case "msa":
		return ds.MSAs(ctx, q)
	case "csa":
		return ds.CSAs(ctx, q)
	case "congressional district":
		return ds.CongressionalDistricts(ctx, q)
	case "voting district":
		return ds.VotingDistricts(ctx, q)
	case "zcta":
		return ds.ZCTAs(ctx, q)
	default:
		// Anything else goes through as a raw Data API level with no
		// layer hints, so it only works without spatial restriction.
		return ds.OtherGeography(ctx, geography, nil, q)
	}
}

func normalizeGeography(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
}

func writeResult(t *census.Table, path, format string) error {
	if format == "xlsx" {
		return writeXLSX(t, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "cmd: create %s", path)
	}
	defer f.Close() //nolint:errcheck
	return t.WriteCSV(f)
}

func writeXLSX(t *census.Table, path string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("data")
	if err != nil {
		return eris.Wrap(err, "cmd: xlsx sheet")
	}

	header := sheet.AddRow()
	for _, col := range t.Columns() {
		header.AddCell().SetString(col)
	}
	for i := 0; i < t.Len(); i++ {
		row := sheet.AddRow()
		for _, cell := range t.Row(i) {
			row.AddCell().SetString(cell)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "cmd: save %s", path)
	}
	return nil
}

func init() {
	queryCmd.Flags().String("product", "acs5", "dataset product (acs1, acs5, dec/pl, estimates, ...)")
	queryCmd.Flags().Int("year", 2021, "dataset vintage year")
	queryCmd.Flags().String("geography", "state", "geography level (us, state, county, tract, place, zcta, ...)")
	queryCmd.Flags().StringSlice("variables", nil, "variable names to fetch, e.g. B01001_001E")
	queryCmd.Flags().StringSlice("groups", nil, "variable groups to fetch in full, e.g. B02001")
	queryCmd.Flags().StringArray("within", nil, `restrict to areas, "Layer:Name" (repeatable)`)
	queryCmd.Flags().Float64("area-threshold", 0, "drop units whose bbox overlap with the query area is below this fraction")
	queryCmd.Flags().String("format", "csv", "output format (csv or xlsx)")
	queryCmd.Flags().String("out", "", "output path (default query-<run-id>.<format>)")
	queryCmd.Flags().String("rename-rules", "", "YAML renamer rules file applied to output columns")

	rootCmd.AddCommand(queryCmd)
}
