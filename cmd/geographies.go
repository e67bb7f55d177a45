package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var geographiesCmd = &cobra.Command{
	Use:   "geographies",
	Short: "List a dataset's supported geography hierarchies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		product, _ := cmd.Flags().GetString("product")
		year, _ := cmd.Flags().GetInt("year")

		opts, cleanup := datasetOptions()
		defer cleanup()

		ds, err := openDataset(ctx, product, year, opts...)
		if err != nil {
			return err
		}

		list := ds.Geographies().List()
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "Dataset reports no geographies.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LEVEL\tTARGET\tHIERARCHY\tWILDCARD")
		for _, g := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.Level, g.Name, g.ReadablePath(), strings.Join(g.Wildcard, ", "))
		}
		return w.Flush()
	},
}

func init() {
	geographiesCmd.Flags().String("product", "acs5", "dataset product (acs1, acs5, dec/pl, estimates, ...)")
	geographiesCmd.Flags().Int("year", 2021, "dataset vintage year")

	rootCmd.AddCommand(geographiesCmd)
}
