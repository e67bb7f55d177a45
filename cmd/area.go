package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var areaCmd = &cobra.Command{
	Use:   "area <name>",
	Short: "Resolve a named area against TIGERWeb",
	Long: `Fuzzy-matches a name against a TIGERWeb layer and prints the winning
feature's identifiers and attributes.

Examples:
  censaurus area "Evanston, IL" --layer "Incorporated Places"
  censaurus area "Cook County"  --layer Counties`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		product, _ := cmd.Flags().GetString("product")
		year, _ := cmd.Flags().GetInt("year")
		layerName, _ := cmd.Flags().GetString("layer")

		opts, cleanup := datasetOptions()
		defer cleanup()

		ds, err := openDataset(ctx, product, year, opts...)
		if err != nil {
			return err
		}

		areas, err := ds.Areas(ctx)
		if err != nil {
			return err
		}

		area, err := areas.Area(ctx, layerName, args[0])
		if err != nil {
			return err
		}
		if err := area.LoadAttributes(ctx); err != nil {
			return err
		}

		fmt.Printf("%s\n", area)
		fmt.Printf("Layer: %s (id %d)\n", area.LayerName, area.LayerID)

		if len(area.Attributes) > 0 {
			keys := make([]string, 0, len(area.Attributes))
			for k := range area.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\n", strings.ToUpper(k), area.Attributes[k])
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	areaCmd.Flags().String("product", "acs5", "dataset product whose map service to search")
	areaCmd.Flags().Int("year", 2021, "dataset vintage year")
	areaCmd.Flags().String("layer", "States", "TIGERWeb layer to search (see 'censaurus layers')")

	rootCmd.AddCommand(areaCmd)
}
