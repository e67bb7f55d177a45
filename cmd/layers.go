package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "List the TIGERWeb map service layers for a dataset",
	Long:  "Lists the geographic layers of the dataset's matching TIGERWeb map service. These are the names 'area --layer' and 'query --within' accept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		product, _ := cmd.Flags().GetString("product")
		year, _ := cmd.Flags().GetInt("year")
		showFields, _ := cmd.Flags().GetBool("fields")

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

		fmt.Fprintf(os.Stderr, "Map service: %s\n", ds.MapService)

		if !showFields {
			for _, name := range areas.LayerNames() {
				fmt.Println(name)
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LAYER\tFIELDS")
		for _, name := range areas.LayerNames() {
			layer, err := areas.GetLayer(name)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", layer.Name, strings.Join(layer.Fields, ", "))
		}
		return w.Flush()
	},
}

func init() {
	layersCmd.Flags().String("product", "acs5", "dataset product (acs1, acs5, dec/pl, estimates, ...)")
	layersCmd.Flags().Int("year", 2021, "dataset vintage year")
	layersCmd.Flags().Bool("fields", false, "also list each layer's attribute fields")

	rootCmd.AddCommand(layersCmd)
}
